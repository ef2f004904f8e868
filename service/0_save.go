package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/fulldump/apitest"
	"github.com/spf13/afero"
)

// examplesFs is where Save writes, under API_EXAMPLES_PATH.
var examplesFs = afero.NewOsFs()

// Save writes the request/response pair as a markdown example when
// API_EXAMPLES_PATH is set.
func Save(response *apitest.Response, title, description string) {

	examplesPath := os.Getenv("API_EXAMPLES_PATH")
	if examplesPath == "" {
		return
	}

	request := response.Request
	requestBody := formatJSON(response.BodyRequestString())

	query := ""
	if request.URL.RawQuery != "" {
		query = "?" + request.URL.RawQuery
	}

	b := &strings.Builder{}
	fmt.Fprintf(b, "# %s\n%s\n", title, cropTabs(description))

	b.WriteString("Curl example:\n\n```sh\ncurl ")
	if request.Method != "GET" {
		fmt.Fprintf(b, "-X %s ", request.Method)
	}
	fmt.Fprintf(b, "\"https://unikv.example.com%s%s\"", request.URL.Path, query)
	for _, k := range sortedKeys(request.Header) {
		for _, v := range request.Header[k] {
			fmt.Fprintf(b, " \\\n-H \"%s: %s\"", k, v)
		}
	}
	if requestBody != "" {
		fmt.Fprintf(b, " \\\n-d '%s'", requestBody)
	}
	b.WriteString("\n```\n\n\n")

	b.WriteString("HTTP request/response example:\n\n```http\n")
	fmt.Fprintf(b, "%s %s%s %s\nHost: unikv.example.com\n", request.Method, request.URL.Path, query, request.Proto)
	for _, k := range sortedKeys(request.Header) {
		for _, v := range request.Header[k] {
			fmt.Fprintf(b, "%s: %s\n", k, v)
		}
	}
	fmt.Fprintf(b, "\n%s\n\n", requestBody)

	fmt.Fprintf(b, "%s %s\n", response.Proto, response.Status)
	for _, k := range sortedKeys(response.Header) {
		if k == "Date" {
			b.WriteString("Date: Mon, 19 Oct 2026 10:00:00 GMT\n")
			continue
		}
		for _, v := range response.Header[k] {
			fmt.Fprintf(b, "%s: %s\n", k, v)
		}
	}
	fmt.Fprintf(b, "\n%s\n```\n\n\n", formatJSON(response.BodyString()))

	filename := strings.ReplaceAll(strings.ToLower(title), " ", "_") + ".md"
	err := afero.WriteFile(examplesFs, path.Join(examplesPath, path.Clean(filename)), []byte(b.String()), 0666)
	if err != nil {
		fmt.Println("Saving err:", err)
	}
}

func sortedKeys(h map[string][]string) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatJSON(body string) string {
	out := &bytes.Buffer{}
	if err := json.Indent(out, []byte(strings.TrimSpace(body)), "", "    "); err != nil {
		return body
	}
	return out.String()
}

// cropTabs removes the indentation shared by the lines of a description
// written inline in Go source.
func cropTabs(d string) string {
	lines := strings.Split(d, "\n")

	minTabs := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		tabs := len(line) - len(strings.TrimLeft(line, "\t"))
		if minTabs < 0 || tabs < minTabs {
			minTabs = tabs
		}
	}
	if minTabs <= 0 {
		return d
	}

	prefix := strings.Repeat("\t", minTabs)
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(line, prefix)
	}
	return strings.Join(lines, "\n")
}
