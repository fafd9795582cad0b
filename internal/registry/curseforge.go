package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"blockyard/internal/domain"
	"blockyard/internal/util"
)

// CurseForgeBaseURL is the public CurseForge Core API.
const CurseForgeBaseURL = "https://api.curseforge.com"

const (
	curseForgeGameID      = 432
	curseForgeClassMods   = 6
	curseForgeClassBukkit = 5

	relationOptional = 2
	relationRequired = 3

	hashAlgoSHA1 = 1
)

var curseForgeLoaders = map[domain.ServerType]int{
	domain.ServerForge:  1,
	domain.ServerFabric: 4,
}

var fileVersionRe = regexp.MustCompile(`\d+(?:\.\d+)+(?:[-+][0-9A-Za-z.]+)?`)

// CurseForge queries the CurseForge Core API. It requires an API key.
type CurseForge struct {
	client *util.HTTPClient
	base   string
	apiKey string
}

var _ Client = (*CurseForge)(nil)

// NewCurseForge creates a CurseForge client. An empty baseURL selects the
// public API.
func NewCurseForge(client *util.HTTPClient, baseURL, apiKey string) *CurseForge {
	if baseURL == "" {
		baseURL = CurseForgeBaseURL
	}
	return &CurseForge{client: client, base: baseURL, apiKey: apiKey}
}

func (c *CurseForge) Source() string { return SourceCurseForge }

type curseForgeMod struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Slug          string `json:"slug"`
	Summary       string `json:"summary"`
	DownloadCount int64  `json:"downloadCount"`
	Authors       []struct {
		Name string `json:"name"`
	} `json:"authors"`
	LatestFilesIndexes []struct {
		GameVersion string `json:"gameVersion"`
	} `json:"latestFilesIndexes"`
}

type curseForgeFile struct {
	ID            int64    `json:"id"`
	DisplayName   string   `json:"displayName"`
	FileName      string   `json:"fileName"`
	DownloadURL   string   `json:"downloadUrl"`
	GameVersions  []string `json:"gameVersions"`
	DownloadCount int64    `json:"downloadCount"`
	Hashes        []struct {
		Value string `json:"value"`
		Algo  int    `json:"algo"`
	} `json:"hashes"`
	Dependencies []struct {
		ModID        int64 `json:"modId"`
		RelationType int   `json:"relationType"`
	} `json:"dependencies"`
}

type curseForgeData[T any] struct {
	Data T `json:"data"`
}

func (c *CurseForge) header() http.Header {
	return http.Header{"x-api-key": {c.apiKey}}
}

func (c *CurseForge) searchParams(q Query) url.Values {
	params := url.Values{}
	params.Set("gameId", strconv.Itoa(curseForgeGameID))
	if loader, ok := curseForgeLoaders[q.ServerType]; ok {
		params.Set("classId", strconv.Itoa(curseForgeClassMods))
		params.Set("modLoaderType", strconv.Itoa(loader))
	} else {
		params.Set("classId", strconv.Itoa(curseForgeClassBukkit))
	}
	if q.GameVersion != "" {
		params.Set("gameVersion", q.GameVersion)
	}
	return params
}

// Search queries /v1/mods/search sorted by popularity.
func (c *CurseForge) Search(ctx context.Context, query string, q Query) ([]domain.PluginDescriptor, error) {
	params := c.searchParams(q)
	params.Set("searchFilter", query)
	params.Set("pageSize", strconv.Itoa(q.limit(20)))
	params.Set("sortField", "2")
	params.Set("sortOrder", "desc")

	var res curseForgeData[[]curseForgeMod]
	if err := c.client.GetJSON(ctx, joinURL(c.base, "v1", "mods", "search")+"?"+params.Encode(), c.header(), &res); err != nil {
		return nil, err
	}
	out := make([]domain.PluginDescriptor, 0, len(res.Data))
	for _, m := range res.Data {
		out = append(out, normalizeCurseForgeMod(m, q.ServerType))
	}
	return out, nil
}

// FetchVersions finds the mod by slug and lists its files. Dependency mod
// ids are resolved to slugs.
func (c *CurseForge) FetchVersions(ctx context.Context, name string, q Query) ([]domain.PluginDescriptor, error) {
	mod, err := c.modBySlug(ctx, name, q)
	if err != nil || mod == nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("pageSize", "25")
	if q.GameVersion != "" {
		params.Set("gameVersion", q.GameVersion)
	}
	if loader, ok := curseForgeLoaders[q.ServerType]; ok {
		params.Set("modLoaderType", strconv.Itoa(loader))
	}
	var files curseForgeData[[]curseForgeFile]
	endpoint := joinURL(c.base, "v1", "mods", strconv.FormatInt(mod.ID, 10), "files") + "?" + params.Encode()
	if err := c.client.GetJSON(ctx, endpoint, c.header(), &files); err != nil {
		return nil, err
	}

	slugs := map[int64]string{}
	for _, f := range files.Data {
		for _, dep := range f.Dependencies {
			if _, ok := slugs[dep.ModID]; ok {
				continue
			}
			slug, err := c.slug(ctx, dep.ModID)
			if err != nil {
				return nil, fmt.Errorf("resolve dependency %d: %w", dep.ModID, err)
			}
			slugs[dep.ModID] = slug
		}
	}

	out := make([]domain.PluginDescriptor, 0, len(files.Data))
	for _, f := range files.Data {
		if d, ok := normalizeCurseForgeFile(*mod, f, slugs, q.ServerType); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (c *CurseForge) modBySlug(ctx context.Context, name string, q Query) (*curseForgeMod, error) {
	params := c.searchParams(q)
	params.Del("gameVersion")
	params.Set("slug", domain.CanonicalName(name))
	var res curseForgeData[[]curseForgeMod]
	if err := c.client.GetJSON(ctx, joinURL(c.base, "v1", "mods", "search")+"?"+params.Encode(), c.header(), &res); err != nil {
		return nil, err
	}
	if len(res.Data) == 0 {
		return nil, nil
	}
	return &res.Data[0], nil
}

func (c *CurseForge) slug(ctx context.Context, id int64) (string, error) {
	var res curseForgeData[curseForgeMod]
	if err := c.client.GetJSON(ctx, joinURL(c.base, "v1", "mods", strconv.FormatInt(id, 10)), c.header(), &res); err != nil {
		return "", err
	}
	return res.Data.Slug, nil
}

func normalizeCurseForgeMod(m curseForgeMod, t domain.ServerType) domain.PluginDescriptor {
	var games []string
	for _, idx := range m.LatestFilesIndexes {
		games = append(games, idx.GameVersion)
	}
	d := domain.PluginDescriptor{
		Name:         m.Slug,
		Source:       SourceCurseForge,
		ProjectID:    strconv.FormatInt(m.ID, 10),
		ServerTypes:  curseForgeTypes(nil, t),
		GameVersions: domain.GameVersionRange{Versions: dedupeSorted(gameVersionsOnly(games))},
		Description:  m.Summary,
		Downloads:    m.DownloadCount,
	}
	if len(m.Authors) > 0 {
		d.Author = m.Authors[0].Name
	}
	return d
}

// normalizeCurseForgeFile converts one file. Files with distribution
// disabled carry no download URL and are skipped.
func normalizeCurseForgeFile(m curseForgeMod, f curseForgeFile, slugs map[int64]string, t domain.ServerType) (domain.PluginDescriptor, bool) {
	if f.DownloadURL == "" {
		return domain.PluginDescriptor{}, false
	}
	d := domain.PluginDescriptor{
		Name:         m.Slug,
		Version:      curseForgeFileVersion(f),
		Source:       SourceCurseForge,
		ProjectID:    strconv.FormatInt(m.ID, 10),
		VersionID:    strconv.FormatInt(f.ID, 10),
		ServerTypes:  curseForgeTypes(f.GameVersions, t),
		GameVersions: domain.GameVersionRange{Versions: gameVersionsOnly(f.GameVersions)},
		DownloadURL:  f.DownloadURL,
		Filename:     f.FileName,
		Description:  m.Summary,
		Downloads:    f.DownloadCount,
	}
	for _, h := range f.Hashes {
		if h.Algo == hashAlgoSHA1 {
			d.Checksum = "sha1:" + h.Value
		}
	}
	for _, dep := range f.Dependencies {
		slug := slugs[dep.ModID]
		if slug == "" {
			continue
		}
		switch dep.RelationType {
		case relationRequired:
			d.Dependencies = append(d.Dependencies, domain.Dependency{Name: slug})
		case relationOptional:
			d.SoftDependencies = append(d.SoftDependencies, domain.Dependency{Name: slug, Optional: true})
		}
	}
	return d, true
}

// curseForgeFileVersion picks the last version-like token of the file name,
// which is the mod version in the usual name-mc-loader-version layout.
func curseForgeFileVersion(f curseForgeFile) string {
	name := strings.TrimSuffix(f.FileName, ".jar")
	if tokens := fileVersionRe.FindAllString(name, -1); len(tokens) > 0 {
		return tokens[len(tokens)-1]
	}
	return f.DisplayName
}

// curseForgeTypes reads loader names out of a file's version tags. Without
// any, the queried server type's platforms apply.
func curseForgeTypes(tags []string, t domain.ServerType) []string {
	var out []string
	for _, tag := range tags {
		switch l := strings.ToLower(tag); l {
		case "forge", "neoforge", "fabric", "quilt", "bukkit":
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		if _, modded := curseForgeLoaders[t]; modded {
			return t.Platforms()
		}
		return []string{"bukkit"}
	}
	return out
}
