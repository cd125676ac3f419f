// Package packages inspects and manages the registry's on-disk storage.
package packages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Type selects which slice of the catalog an operation applies to.
// Private packages were published to this registry through the npm API;
// cached packages were proxied from an uplink.
type Type string

const (
	TypePrivate Type = "private"
	TypeCached  Type = "cached"
	TypeAll     Type = "all"
)

// ParseType maps a request parameter onto a Type, defaulting to all.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypePrivate:
		return TypePrivate, nil
	case TypeCached:
		return TypeCached, nil
	case TypeAll, "":
		return TypeAll, nil
	}
	return "", fmt.Errorf("unknown package type %q", s)
}

var ErrPackageNotFound = errors.New("package does not exist")

// Info is the catalog entry for a single package.
type Info struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Author      string   `json:"author,omitempty"`
	License     string   `json:"license,omitempty"`
	Versions    []string `json:"versions"`
	Keywords    []string `json:"keywords"`
	Homepage    string   `json:"homepage,omitempty"`
	Repository  string   `json:"repository,omitempty"`
	Created     string   `json:"created,omitempty"`
	Modified    string   `json:"modified,omitempty"`
}

// Page is one page of catalog results.
type Page struct {
	Items      []Info `json:"items"`
	Total      int    `json:"total"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	TotalPages int    `json:"total_pages"`
}

// Catalog scans a verdaccio storage directory and classifies packages
// against the running registry's data API.
type Catalog struct {
	StoragePath string

	// APIBase overrides the registry base URL. When empty the catalog
	// talks to http://localhost:<port>.
	APIBase string

	client *resty.Client
}

func NewCatalog(storagePath string) *Catalog {
	return &Catalog{
		StoragePath: storagePath,
		client:      resty.New().SetTimeout(5 * time.Second),
	}
}

// List returns one page of packages of the given type. page is 1-based.
func (c *Catalog) List(ctx context.Context, port uint16, typ Type, page, pageSize int) (Page, error) {
	dirs, err := c.collectDirs()
	if err != nil {
		return Page{}, err
	}
	names, err := c.filterNames(ctx, dirs, typ, port)
	if err != nil {
		return Page{}, err
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	total := len(names)
	totalPages := 0
	if total > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}

	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	byName := make(map[string]string, len(dirs))
	for _, d := range dirs {
		byName[d.name] = d.path
	}

	items := make([]Info, 0, end-start)
	for _, name := range names[start:end] {
		info, ok := readInfo(byName[name], name)
		if !ok {
			continue
		}
		items = append(items, info)
	}

	return Page{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// Count returns how many packages of the given type exist.
func (c *Catalog) Count(ctx context.Context, port uint16, typ Type) (int, error) {
	dirs, err := c.collectDirs()
	if err != nil {
		return 0, err
	}
	names, err := c.filterNames(ctx, dirs, typ, port)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// Delete removes a single package from storage.
func (c *Catalog) Delete(name string) error {
	path := c.packagePath(name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("package %s: %w", name, ErrPackageNotFound)
		}
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("delete package %s: %w", name, err)
	}
	return nil
}

// DeleteAll removes every package of the given type and reports how many
// were deleted. Partial failures are tolerated unless nothing succeeded.
func (c *Catalog) DeleteAll(ctx context.Context, port uint16, typ Type) (int, error) {
	dirs, err := c.collectDirs()
	if err != nil {
		return 0, err
	}
	names, err := c.filterNames(ctx, dirs, typ, port)
	if err != nil {
		return 0, err
	}

	deleted := 0
	var failures []string
	for _, name := range names {
		if err := os.RemoveAll(c.packagePath(name)); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		deleted++
	}
	if len(failures) > 0 && deleted == 0 {
		return 0, fmt.Errorf("delete packages: %s", strings.Join(failures, ", "))
	}
	return deleted, nil
}

type pkgDir struct {
	path string
	name string
}

// collectDirs walks storage and returns package directories sorted by
// name, descending into @scope directories one level.
func (c *Catalog) collectDirs() ([]pkgDir, error) {
	entries, err := os.ReadDir(c.StoragePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read storage directory: %w", err)
	}

	var out []pkgDir
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(c.StoragePath, name)

		if strings.HasPrefix(name, "@") {
			scoped, err := os.ReadDir(path)
			if err != nil {
				continue
			}
			for _, se := range scoped {
				sp := filepath.Join(path, se.Name())
				if isPackageDir(sp) {
					out = append(out, pkgDir{path: sp, name: name + "/" + se.Name()})
				}
			}
			continue
		}

		if isPackageDir(path) {
			out = append(out, pkgDir{path: path, name: name})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].name) < strings.ToLower(out[j].name)
	})
	return out, nil
}

func isPackageDir(path string) bool {
	st, err := os.Stat(path)
	if err != nil || !st.IsDir() {
		return false
	}
	_, err = os.Stat(filepath.Join(path, "package.json"))
	return err == nil
}

func (c *Catalog) filterNames(ctx context.Context, dirs []pkgDir, typ Type, port uint16) ([]string, error) {
	names := make([]string, 0, len(dirs))
	for _, d := range dirs {
		names = append(names, d.name)
	}
	if typ == TypeAll || typ == "" {
		return names, nil
	}

	private, err := c.privateNames(ctx, port)
	if err != nil {
		return nil, err
	}
	keep := make([]string, 0, len(names))
	for _, name := range names {
		if private[name] == (typ == TypePrivate) {
			keep = append(keep, name)
		}
	}
	return keep, nil
}

// privateNames asks the running registry which packages were published
// locally. A non-2xx response means none are known.
func (c *Catalog) privateNames(ctx context.Context, port uint16) (map[string]bool, error) {
	base := c.APIBase
	if base == "" {
		base = "http://localhost:" + strconv.Itoa(int(port))
	}

	var pkgs []struct {
		Name string `json:"name"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&pkgs).
		Get(base + "/-/verdaccio/data/packages")
	if err != nil {
		return nil, fmt.Errorf("query registry data API: %w", err)
	}
	if !resp.IsSuccess() {
		return map[string]bool{}, nil
	}

	out := make(map[string]bool, len(pkgs))
	for _, p := range pkgs {
		out[p.Name] = true
	}
	return out, nil
}

func (c *Catalog) packagePath(name string) string {
	if strings.HasPrefix(name, "@") {
		if scope, rest, ok := strings.Cut(name, "/"); ok {
			return filepath.Join(c.StoragePath, scope, rest)
		}
	}
	return filepath.Join(c.StoragePath, name)
}

// readInfo extracts catalog metadata from a package's stored manifest.
func readInfo(path, name string) (Info, bool) {
	data, err := os.ReadFile(filepath.Join(path, "package.json"))
	if err != nil {
		return Info{}, false
	}

	var doc struct {
		Description string                     `json:"description"`
		License     json.RawMessage            `json:"license"`
		Author      json.RawMessage            `json:"author"`
		DistTags    map[string]string          `json:"dist-tags"`
		Versions    map[string]json.RawMessage `json:"versions"`
		Time        map[string]string          `json:"time"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Info{}, false
	}

	versions := make([]string, 0, len(doc.Versions))
	for v := range doc.Versions {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool {
		return compareVersions(versions[i], versions[j]) > 0
	})

	latest := doc.DistTags["latest"]
	if latest == "" {
		latest = "0.0.0"
	}

	var latestInfo struct {
		Description string          `json:"description"`
		Author      json.RawMessage `json:"author"`
		License     json.RawMessage `json:"license"`
		Keywords    []string        `json:"keywords"`
		Homepage    string          `json:"homepage"`
		Repository  json.RawMessage `json:"repository"`
	}
	if raw, ok := doc.Versions[latest]; ok {
		_ = json.Unmarshal(raw, &latestInfo)
	}

	info := Info{
		Name:        name,
		Version:     latest,
		Description: firstNonEmpty(latestInfo.Description, doc.Description),
		Author:      firstNonEmpty(parseNameOrObject(latestInfo.Author, "name"), parseNameOrObject(doc.Author, "name")),
		License:     firstNonEmpty(parseString(latestInfo.License), parseString(doc.License)),
		Versions:    versions,
		Keywords:    latestInfo.Keywords,
		Homepage:    latestInfo.Homepage,
		Repository:  parseNameOrObject(latestInfo.Repository, "url"),
		Created:     doc.Time["created"],
		Modified:    doc.Time["modified"],
	}
	if info.Keywords == nil {
		info.Keywords = []string{}
	}
	return info, true
}

// parseNameOrObject handles npm fields that are either a plain string or
// an object carrying the value under key (author.name, repository.url).
func parseNameOrObject(raw json.RawMessage, key string) string {
	if len(raw) == 0 {
		return ""
	}
	if s := parseString(raw); s != "" {
		return s
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	return parseString(obj[key])
}

func parseString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// compareVersions orders dotted numeric versions, ignoring any
// non-numeric separators.
func compareVersions(a, b string) int {
	na := numericParts(a)
	nb := numericParts(b)
	for i := 0; i < len(na) || i < len(nb); i++ {
		var x, y int
		if i < len(na) {
			x = na[i]
		}
		if i < len(nb) {
			y = nb[i]
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}

func numericParts(v string) []int {
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r < '0' || r > '9'
	})
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
