package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"blockyard/internal/domain"
	"blockyard/internal/util"
)

// ModrinthBaseURL is the public Modrinth API.
const ModrinthBaseURL = "https://api.modrinth.com"

// Modrinth queries the Modrinth v2 API.
type Modrinth struct {
	client *util.HTTPClient
	base   string
}

var _ Client = (*Modrinth)(nil)

// NewModrinth creates a Modrinth client. An empty baseURL selects the public API.
func NewModrinth(client *util.HTTPClient, baseURL string) *Modrinth {
	if baseURL == "" {
		baseURL = ModrinthBaseURL
	}
	return &Modrinth{client: client, base: baseURL}
}

func (m *Modrinth) Source() string { return SourceModrinth }

type modrinthHit struct {
	ProjectID   string   `json:"project_id"`
	Slug        string   `json:"slug"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Author      string   `json:"author"`
	Downloads   int64    `json:"downloads"`
	Categories  []string `json:"categories"`
	Versions    []string `json:"versions"`
}

type modrinthSearch struct {
	Hits []modrinthHit `json:"hits"`
}

type modrinthFile struct {
	URL      string            `json:"url"`
	Filename string            `json:"filename"`
	Primary  bool              `json:"primary"`
	Hashes   map[string]string `json:"hashes"`
}

type modrinthDependency struct {
	ProjectID      string `json:"project_id"`
	VersionID      string `json:"version_id"`
	DependencyType string `json:"dependency_type"`
}

type modrinthVersion struct {
	ID            string               `json:"id"`
	ProjectID     string               `json:"project_id"`
	VersionNumber string               `json:"version_number"`
	GameVersions  []string             `json:"game_versions"`
	Loaders       []string             `json:"loaders"`
	Dependencies  []modrinthDependency `json:"dependencies"`
	Files         []modrinthFile       `json:"files"`
	Downloads     int64                `json:"downloads"`
}

type modrinthProject struct {
	ID    string `json:"id"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

// Search queries /v2/search with loader and game version facets.
func (m *Modrinth) Search(ctx context.Context, query string, q Query) ([]domain.PluginDescriptor, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", strconv.Itoa(q.limit(20)))
	params.Set("index", "relevance")
	params.Set("facets", modrinthFacets(q))

	var res modrinthSearch
	if err := m.client.GetJSON(ctx, joinURL(m.base, "v2", "search")+"?"+params.Encode(), nil, &res); err != nil {
		return nil, err
	}
	out := make([]domain.PluginDescriptor, 0, len(res.Hits))
	for _, h := range res.Hits {
		out = append(out, normalizeModrinthHit(h))
	}
	return out, nil
}

// FetchVersions lists the project's versions for the server's loaders and
// game version, resolving dependency project ids to slugs.
func (m *Modrinth) FetchVersions(ctx context.Context, name string, q Query) ([]domain.PluginDescriptor, error) {
	params := url.Values{}
	if loaders := q.ServerType.Platforms(); len(loaders) > 0 {
		params.Set("loaders", jsonList(loaders))
	}
	if q.GameVersion != "" {
		params.Set("game_versions", jsonList([]string{q.GameVersion}))
	}
	endpoint := joinURL(m.base, "v2", "project", domain.CanonicalName(name), "version")
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var raw []modrinthVersion
	if err := m.client.GetJSON(ctx, endpoint, nil, &raw); err != nil {
		return nil, err
	}

	slugs, err := m.projectSlugs(ctx, raw)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PluginDescriptor, 0, len(raw))
	for _, v := range raw {
		if d, ok := normalizeModrinthVersion(name, v, slugs); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// projectSlugs maps every dependency project id to its slug in one request.
func (m *Modrinth) projectSlugs(ctx context.Context, raw []modrinthVersion) (map[string]string, error) {
	seen := map[string]bool{}
	var ids []string
	for _, v := range raw {
		for _, d := range v.Dependencies {
			if d.ProjectID != "" && !seen[d.ProjectID] {
				seen[d.ProjectID] = true
				ids = append(ids, d.ProjectID)
			}
		}
	}
	slugs := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return slugs, nil
	}
	params := url.Values{}
	params.Set("ids", jsonList(ids))
	var projects []modrinthProject
	if err := m.client.GetJSON(ctx, joinURL(m.base, "v2", "projects")+"?"+params.Encode(), nil, &projects); err != nil {
		return nil, fmt.Errorf("resolve dependency projects: %w", err)
	}
	for _, p := range projects {
		slugs[p.ID] = p.Slug
	}
	return slugs, nil
}

func modrinthFacets(q Query) string {
	projectType := "project_type:plugin"
	if q.ServerType.IsModded() {
		projectType = "project_type:mod"
	}
	facets := [][]string{{projectType}}
	if loaders := q.ServerType.Platforms(); len(loaders) > 0 {
		group := make([]string, len(loaders))
		for i, l := range loaders {
			group[i] = "categories:" + l
		}
		facets = append(facets, group)
	}
	if q.GameVersion != "" {
		facets = append(facets, []string{"versions:" + q.GameVersion})
	}
	b, _ := json.Marshal(facets)
	return string(b)
}

func normalizeModrinthHit(h modrinthHit) domain.PluginDescriptor {
	return domain.PluginDescriptor{
		Name:         h.Slug,
		Source:       SourceModrinth,
		ProjectID:    h.ProjectID,
		ServerTypes:  h.Categories,
		GameVersions: domain.GameVersionRange{Versions: gameVersionsOnly(h.Versions)},
		Description:  h.Description,
		Author:       h.Author,
		Downloads:    h.Downloads,
	}
}

// normalizeModrinthVersion converts one version. Versions without a
// downloadable file are skipped.
func normalizeModrinthVersion(name string, v modrinthVersion, slugs map[string]string) (domain.PluginDescriptor, bool) {
	if len(v.Files) == 0 {
		return domain.PluginDescriptor{}, false
	}
	file := v.Files[0]
	for _, f := range v.Files {
		if f.Primary {
			file = f
			break
		}
	}

	d := domain.PluginDescriptor{
		Name:         domain.CanonicalName(name),
		Version:      v.VersionNumber,
		Source:       SourceModrinth,
		ProjectID:    v.ProjectID,
		VersionID:    v.ID,
		ServerTypes:  v.Loaders,
		GameVersions: domain.GameVersionRange{Versions: gameVersionsOnly(v.GameVersions)},
		DownloadURL:  file.URL,
		Filename:     file.Filename,
		Downloads:    v.Downloads,
	}
	switch {
	case file.Hashes["sha512"] != "":
		d.Checksum = "sha512:" + file.Hashes["sha512"]
	case file.Hashes["sha1"] != "":
		d.Checksum = "sha1:" + file.Hashes["sha1"]
	}

	for _, dep := range v.Dependencies {
		slug := slugs[dep.ProjectID]
		if slug == "" {
			continue
		}
		switch dep.DependencyType {
		case "required":
			d.Dependencies = append(d.Dependencies, domain.Dependency{Name: slug})
		case "optional":
			d.SoftDependencies = append(d.SoftDependencies, domain.Dependency{Name: slug, Optional: true})
		}
	}
	return d, true
}

func jsonList(items []string) string {
	b, _ := json.Marshal(items)
	return string(b)
}
