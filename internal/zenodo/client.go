// Package zenodo downloads the MODES input datasets (vertical structure
// functions, Hough coefficients and Hough functions) published on Zenodo.
package zenodo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/lox/qmodes/internal/httputil"
)

const (
	DefaultAPIURL = "https://zenodo.org/api"
	DefaultDOIURL = "https://doi.org"
)

// Dataset is one Zenodo record and the local directory it lands in.
type Dataset struct {
	Name string
	DOI  string
	Dir  string
}

// Datasets are the published MODES inputs. The Hough functions are split
// across eight records that share one directory.
var Datasets = []Dataset{
	{Name: "vsf", DOI: "10.5281/zenodo.12726172", Dir: "vsf"},
	{Name: "coef", DOI: "10.5281/zenodo.12724196", Dir: "coef"},
	{Name: "hough1", DOI: "10.5281/zenodo.12749244", Dir: "hough"},
	{Name: "hough2", DOI: "10.5281/zenodo.12749316", Dir: "hough"},
	{Name: "hough3", DOI: "10.5281/zenodo.12749407", Dir: "hough"},
	{Name: "hough4", DOI: "10.5281/zenodo.12749482", Dir: "hough"},
	{Name: "hough5", DOI: "10.5281/zenodo.12751158", Dir: "hough"},
	{Name: "hough6", DOI: "10.5281/zenodo.12751242", Dir: "hough"},
	{Name: "hough7", DOI: "10.5281/zenodo.12751345", Dir: "hough"},
	{Name: "hough8", DOI: "10.5281/zenodo.12751416", Dir: "hough"},
}

// SelectDatasets resolves dataset names. "all" (or no names) selects
// every dataset and "hough" selects all Hough records.
func SelectDatasets(names []string) ([]Dataset, error) {
	if len(names) == 0 {
		return Datasets, nil
	}
	seen := make(map[string]bool)
	var out []Dataset
	add := func(d Dataset) {
		if !seen[d.Name] {
			seen[d.Name] = true
			out = append(out, d)
		}
	}
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		matched := false
		for _, d := range Datasets {
			if name == "all" || d.Name == name || (name == "hough" && d.Dir == "hough") {
				add(d)
				matched = true
			}
		}
		if !matched {
			return nil, fmt.Errorf("unknown dataset %q", name)
		}
	}
	return out, nil
}

// Record is the subset of a Zenodo record used for downloading.
type Record struct {
	ID       json.Number `json:"id"`
	Metadata struct {
		Title string `json:"title"`
		DOI   string `json:"doi"`
	} `json:"metadata"`
	Files []File `json:"files"`
}

type File struct {
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
	Links    struct {
		Self string `json:"self"`
	} `json:"links"`
}

// TotalSize is the summed size of the record's files in bytes.
func (r *Record) TotalSize() int64 {
	var n int64
	for _, f := range r.Files {
		n += f.Size
	}
	return n
}

type Client struct {
	http   *httputil.Client
	apiURL string
	doiURL string
}

func NewClient(h *httputil.Client, apiURL, doiURL string) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if doiURL == "" {
		doiURL = DefaultDOIURL
	}
	return &Client{
		http:   h,
		apiURL: strings.TrimRight(apiURL, "/"),
		doiURL: strings.TrimRight(doiURL, "/"),
	}
}

// ResolveRecordID follows the DOI redirect chain; the record id is the
// last path element of the landing page.
func (c *Client) ResolveRecordID(ctx context.Context, doi string) (string, error) {
	resp, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.doiURL+"/"+doi, nil)
	})
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", doi, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	id := strings.TrimSpace(path.Base(strings.TrimRight(resp.Request.URL.Path, "/")))
	if id == "" || id == "." || id == "/" {
		return "", fmt.Errorf("resolve %s: no record id in %s", doi, resp.Request.URL)
	}
	return id, nil
}

// GetRecord fetches record metadata. The raw JSON is returned for
// archiving alongside the decoded record.
func (c *Client) GetRecord(ctx context.Context, id string) (*Record, []byte, error) {
	resp, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/records/"+url.PathEscape(id), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("get record %s: %w", id, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read record %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &rec, raw, nil
}

// Download fetches a record file to dst.
func (c *Client) Download(ctx context.Context, f File, dst string) (int64, error) {
	if f.Links.Self == "" {
		return 0, fmt.Errorf("file %s has no download link", f.Key)
	}
	return c.http.DownloadFile(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, f.Links.Self, nil)
	}, dst)
}
