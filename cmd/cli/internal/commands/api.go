package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/wolfeidau/testdash/internal/orgclient"
)

// APICmd issues raw requests to the backend, scoped to the current organization.
type APICmd struct {
	Get    APIGetCmd    `cmd:"" help:"Send a GET request"`
	Post   APIPostCmd   `cmd:"" help:"Send a POST request"`
	Put    APIPutCmd    `cmd:"" help:"Send a PUT request"`
	Patch  APIPatchCmd  `cmd:"" help:"Send a PATCH request"`
	Delete APIDeleteCmd `cmd:"" help:"Send a DELETE request"`
}

// APIRequest holds the flags shared by every api subcommand.
type APIRequest struct {
	Path    string   `arg:"" help:"Endpoint path, e.g. /api/v1/projects"`
	Org     string   `help:"Organization id, overrides the current organization"`
	NoOrg   bool     `help:"Send no X-Organization-ID header"`
	Header  []string `short:"H" sep:"none" help:"Extra request header as 'Name: value'"`
	Include bool     `short:"i" help:"Print the response status line and headers"`
	Retry   bool     `help:"Retry transient failures, never authorization errors"`
}

// APIBody adds a request body to APIRequest.
type APIBody struct {
	Data string `short:"d" help:"JSON request body, @file to read a file, @- for stdin"`
}

type APIGetCmd struct {
	APIRequest `embed:""`
}

func (c *APIGetCmd) Run(ctx context.Context, globals *Globals) error {
	return c.send(ctx, globals, http.MethodGet, nil)
}

type APIPostCmd struct {
	APIRequest `embed:""`
	APIBody    `embed:""`
}

func (c *APIPostCmd) Run(ctx context.Context, globals *Globals) error {
	body, err := readBody(c.Data, os.Stdin)
	if err != nil {
		return err
	}
	return c.send(ctx, globals, http.MethodPost, body)
}

type APIPutCmd struct {
	APIRequest `embed:""`
	APIBody    `embed:""`
}

func (c *APIPutCmd) Run(ctx context.Context, globals *Globals) error {
	body, err := readBody(c.Data, os.Stdin)
	if err != nil {
		return err
	}
	return c.send(ctx, globals, http.MethodPut, body)
}

type APIPatchCmd struct {
	APIRequest `embed:""`
	APIBody    `embed:""`
}

func (c *APIPatchCmd) Run(ctx context.Context, globals *Globals) error {
	body, err := readBody(c.Data, os.Stdin)
	if err != nil {
		return err
	}
	return c.send(ctx, globals, http.MethodPatch, body)
}

type APIDeleteCmd struct {
	APIRequest `embed:""`
}

func (c *APIDeleteCmd) Run(ctx context.Context, globals *Globals) error {
	return c.send(ctx, globals, http.MethodDelete, nil)
}

type apiResult struct {
	resp *http.Response
	body []byte
}

func (r *APIRequest) send(ctx context.Context, globals *Globals, method string, body []byte) error {
	header, err := parseHeaders(r.Header)
	if err != nil {
		return err
	}

	rt, err := globals.connect(ctx)
	if err != nil {
		return err
	}

	opts := orgclient.RequestOptions{
		Options:                rt.auth(ctx),
		OrganizationID:         r.Org,
		SkipOrganizationHeader: r.NoOrg,
	}
	opts.Header = header

	do := func(ctx context.Context) (apiResult, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		resp, err := rt.orgs.Do(ctx, method, r.Path, reader, opts)
		if err != nil {
			return apiResult{}, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return apiResult{}, fmt.Errorf("failed to read response: %w", err)
		}

		// only server errors are worth another attempt
		if r.Retry && resp.StatusCode >= http.StatusInternalServerError {
			return apiResult{resp: resp, body: data}, &orgclient.APIError{StatusCode: resp.StatusCode, Body: string(data)}
		}
		return apiResult{resp: resp, body: data}, nil
	}

	var res apiResult
	if r.Retry {
		res, err = orgclient.WithRetry(ctx, orgclient.DefaultRetryPolicy(), do)
	} else {
		res, err = do(ctx)
	}
	if res.resp == nil {
		return err
	}

	printResponse(globals.out(), res.resp, res.body, r.Include)

	if res.resp.StatusCode < 200 || res.resp.StatusCode > 299 {
		return &orgclient.APIError{StatusCode: res.resp.StatusCode, Body: string(res.body)}
	}
	return nil
}

// parseHeaders converts "Name: value" pairs into a header.
func parseHeaders(values []string) (http.Header, error) {
	header := http.Header{}
	for _, v := range values {
		name, value, ok := strings.Cut(v, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, expected 'Name: value'", v)
		}
		header.Add(name, strings.TrimSpace(value))
	}
	return header, nil
}

// readBody resolves the --data flag. The body must be valid JSON.
func readBody(data string, stdin io.Reader) ([]byte, error) {
	if data == "" {
		return nil, nil
	}

	var body []byte
	switch {
	case data == "@-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read body from stdin: %w", err)
		}
		body = b
	case strings.HasPrefix(data, "@"):
		b, err := os.ReadFile(data[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
		body = b
	default:
		body = []byte(data)
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("request body is not valid JSON")
	}
	return body, nil
}

func printResponse(w io.Writer, resp *http.Response, body []byte, include bool) {
	if include {
		fmt.Fprintf(w, "%s %s\n", resp.Proto, resp.Status)
		for name, values := range resp.Header {
			for _, v := range values {
				fmt.Fprintf(w, "%s: %s\n", name, v)
			}
		}
		fmt.Fprintln(w)
	}

	if len(body) == 0 {
		return
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err == nil {
		fmt.Fprintln(w, pretty.String())
		return
	}
	fmt.Fprintln(w, string(body))
}
