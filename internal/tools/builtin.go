package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"
)

const (
	maxReadBytes   = 256 * 1024
	searchTimeout  = 15 * time.Second
	maxSearchBytes = 64 * 1024
)

// SoulStore is the identity-document collaborator consumed by the soul
// tools.
type SoulStore interface {
	Read() (string, error)
	UpdateSection(name, content string) (string, error)
}

// NewFileTools returns read_file and write_file confined to workspaceDir.
func NewFileTools(workspaceDir string) []Tool {
	resolve := func(name string) (string, error) {
		if name == "" {
			return "", fmt.Errorf("path is required")
		}
		path := filepath.Join(workspaceDir, filepath.Clean("/"+name))
		return path, nil
	}

	readFile := Tool{
		Name:        "read_file",
		Description: "Read a text file from the workspace. Arguments: path.",
		Run: func(ctx context.Context, args map[string]string) (string, error) {
			path, err := resolve(args["path"])
			if err != nil {
				return "", err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("read %s: %w", args["path"], err)
			}
			if len(data) > maxReadBytes {
				data = data[:maxReadBytes]
			}
			return string(data), nil
		},
	}

	writeFile := Tool{
		Name:        "write_file",
		Description: "Write text to a file in the workspace. Arguments: path, content.",
		Run: func(ctx context.Context, args map[string]string) (string, error) {
			path, err := resolve(args["path"])
			if err != nil {
				return "", err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return "", fmt.Errorf("create directory for %s: %w", args["path"], err)
			}
			if err := os.WriteFile(path, []byte(args["content"]), 0644); err != nil {
				return "", fmt.Errorf("write %s: %w", args["path"], err)
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(args["content"]), args["path"]), nil
		},
	}

	return []Tool{readFile, writeFile}
}

// NewTemplateTool returns fill_template, which renders a Go text template
// with the remaining arguments as data.
func NewTemplateTool() Tool {
	return Tool{
		Name:        "fill_template",
		Description: "Render a text template. Arguments: template, plus one argument per placeholder.",
		Run: func(ctx context.Context, args map[string]string) (string, error) {
			src, ok := args["template"]
			if !ok {
				return "", fmt.Errorf("template is required")
			}
			tmpl, err := template.New("fill").Option("missingkey=error").Parse(src)
			if err != nil {
				return "", fmt.Errorf("parse template: %w", err)
			}
			data := make(map[string]string, len(args))
			for k, v := range args {
				if k != "template" {
					data[k] = v
				}
			}
			var sb strings.Builder
			if err := tmpl.Execute(&sb, data); err != nil {
				return "", fmt.Errorf("render template: %w", err)
			}
			return sb.String(), nil
		},
	}
}

// NewWebSearchTool returns web_search backed by a plain HTTP fetch of the
// given search endpoint. The endpoint receives the query as the q
// parameter.
func NewWebSearchTool(endpoint string, client *http.Client) Tool {
	if endpoint == "" {
		endpoint = "https://html.duckduckgo.com/html/"
	}
	if client == nil {
		client = &http.Client{Timeout: searchTimeout}
	}
	return Tool{
		Name:        "web_search",
		Description: "Search the web. Arguments: query.",
		Run: func(ctx context.Context, args map[string]string) (string, error) {
			query := strings.TrimSpace(args["query"])
			if query == "" {
				return "", fmt.Errorf("query is required")
			}
			u := endpoint + "?q=" + url.QueryEscape(query)
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return "", fmt.Errorf("build search request: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("search request: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return "", fmt.Errorf("search returned status %d", resp.StatusCode)
			}
			body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBytes))
			if err != nil {
				return "", fmt.Errorf("read search response: %w", err)
			}
			return string(body), nil
		},
	}
}

// NewSoulTools returns view_soul and update_soul over the identity store.
func NewSoulTools(soul SoulStore) []Tool {
	viewSoul := Tool{
		Name:        "view_soul",
		Description: "Read the user's identity document. No arguments.",
		Run: func(ctx context.Context, args map[string]string) (string, error) {
			return soul.Read()
		},
	}

	updateSoul := Tool{
		Name:        "update_soul",
		Description: "Replace one section of the identity document. Arguments: section, content.",
		Run: func(ctx context.Context, args map[string]string) (string, error) {
			section := strings.TrimSpace(args["section"])
			if section == "" {
				return "", fmt.Errorf("section is required")
			}
			if _, err := soul.UpdateSection(section, args["content"]); err != nil {
				return "", err
			}
			return fmt.Sprintf("updated section %q", section), nil
		},
	}

	return []Tool{viewSoul, updateSoul}
}
