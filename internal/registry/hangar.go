package registry

import (
	"context"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"blockyard/internal/domain"
	"blockyard/internal/util"
)

// HangarBaseURL is the public PaperMC Hangar API.
const HangarBaseURL = "https://hangar.papermc.io"

// Hangar queries the PaperMC Hangar v1 API.
type Hangar struct {
	client *util.HTTPClient
	base   string
}

var _ Client = (*Hangar)(nil)

// NewHangar creates a Hangar client. An empty baseURL selects the public API.
func NewHangar(client *util.HTTPClient, baseURL string) *Hangar {
	if baseURL == "" {
		baseURL = HangarBaseURL
	}
	return &Hangar{client: client, base: baseURL}
}

func (h *Hangar) Source() string { return SourceHangar }

type hangarProject struct {
	Name      string `json:"name"`
	Namespace struct {
		Owner string `json:"owner"`
		Slug  string `json:"slug"`
	} `json:"namespace"`
	Stats struct {
		Downloads int64 `json:"downloads"`
	} `json:"stats"`
	Description        string              `json:"description"`
	SupportedPlatforms map[string][]string `json:"supportedPlatforms"`
}

type hangarDownload struct {
	FileInfo *struct {
		Name      string `json:"name"`
		SizeBytes int64  `json:"sizeBytes"`
		SHA256    string `json:"sha256Hash"`
	} `json:"fileInfo"`
	ExternalURL string `json:"externalUrl"`
	DownloadURL string `json:"downloadUrl"`
}

type hangarPluginDependency struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

type hangarVersion struct {
	Name  string `json:"name"`
	Stats struct {
		TotalDownloads int64 `json:"totalDownloads"`
	} `json:"stats"`
	Author               string                              `json:"author"`
	Downloads            map[string]hangarDownload           `json:"downloads"`
	PluginDependencies   map[string][]hangarPluginDependency `json:"pluginDependencies"`
	PlatformDependencies map[string][]string                 `json:"platformDependencies"`
}

type hangarPage[T any] struct {
	Result []T `json:"result"`
}

// hangarPlatform maps a server type to Hangar's platform enum.
func hangarPlatform(t domain.ServerType) string {
	switch t {
	case domain.ServerVelocity:
		return "VELOCITY"
	case domain.ServerBungeeCord:
		return "WATERFALL"
	default:
		return "PAPER"
	}
}

// Search queries /api/v1/projects sorted by downloads.
func (h *Hangar) Search(ctx context.Context, query string, q Query) ([]domain.PluginDescriptor, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(q.limit(20)))
	params.Set("sort", "-downloads")
	params.Set("platform", hangarPlatform(q.ServerType))
	if q.GameVersion != "" {
		params.Set("version", q.GameVersion)
	}

	var page hangarPage[hangarProject]
	if err := h.client.GetJSON(ctx, joinURL(h.base, "api", "v1", "projects")+"?"+params.Encode(), nil, &page); err != nil {
		return nil, err
	}
	out := make([]domain.PluginDescriptor, 0, len(page.Result))
	for _, p := range page.Result {
		out = append(out, normalizeHangarProject(p))
	}
	return out, nil
}

// FetchVersions lists the project's versions for the server's platform.
func (h *Hangar) FetchVersions(ctx context.Context, name string, q Query) ([]domain.PluginDescriptor, error) {
	platform := hangarPlatform(q.ServerType)
	params := url.Values{}
	params.Set("limit", "25")
	params.Set("platform", platform)
	if q.GameVersion != "" {
		params.Set("platformVersion", q.GameVersion)
	}

	var page hangarPage[hangarVersion]
	endpoint := joinURL(h.base, "api", "v1", "projects", name, "versions") + "?" + params.Encode()
	if err := h.client.GetJSON(ctx, endpoint, nil, &page); err != nil {
		return nil, err
	}
	out := make([]domain.PluginDescriptor, 0, len(page.Result))
	for _, v := range page.Result {
		if d, ok := normalizeHangarVersion(h.base, name, platform, v); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func normalizeHangarProject(p hangarProject) domain.PluginDescriptor {
	var types, games []string
	for platform, vs := range p.SupportedPlatforms {
		types = append(types, strings.ToLower(platform))
		games = append(games, vs...)
	}
	slices.Sort(types)
	return domain.PluginDescriptor{
		Name:         p.Name,
		Source:       SourceHangar,
		ProjectID:    p.Namespace.Slug,
		ServerTypes:  types,
		GameVersions: domain.GameVersionRange{Versions: dedupeSorted(games)},
		Description:  p.Description,
		Author:       p.Namespace.Owner,
		Downloads:    p.Stats.Downloads,
	}
}

// normalizeHangarVersion converts one version for platform. Versions not
// published for the platform are skipped.
func normalizeHangarVersion(base, name, platform string, v hangarVersion) (domain.PluginDescriptor, bool) {
	dl, ok := v.Downloads[platform]
	if !ok {
		return domain.PluginDescriptor{}, false
	}
	d := domain.PluginDescriptor{
		Name:         name,
		Version:      v.Name,
		Source:       SourceHangar,
		ProjectID:    name,
		VersionID:    v.Name,
		ServerTypes:  hangarServerTypes(platform),
		GameVersions: domain.GameVersionRange{Versions: dedupeSorted(v.PlatformDependencies[platform])},
		Author:       v.Author,
		Downloads:    v.Stats.TotalDownloads,
	}
	switch {
	case dl.DownloadURL != "":
		d.DownloadURL = dl.DownloadURL
	case dl.ExternalURL != "":
		d.DownloadURL = dl.ExternalURL
	default:
		d.DownloadURL = joinURL(base, "api", "v1", "projects", name, "versions", v.Name, platform, "download")
	}
	if dl.FileInfo != nil {
		d.Filename = dl.FileInfo.Name
		if dl.FileInfo.SHA256 != "" {
			d.Checksum = "sha256:" + dl.FileInfo.SHA256
		}
	}
	for _, dep := range v.PluginDependencies[platform] {
		if dep.Name == "" {
			continue
		}
		if dep.Required {
			d.Dependencies = append(d.Dependencies, domain.Dependency{Name: dep.Name})
		} else {
			d.SoftDependencies = append(d.SoftDependencies, domain.Dependency{Name: dep.Name, Optional: true})
		}
	}
	return d, true
}

func hangarServerTypes(platform string) []string {
	switch platform {
	case "VELOCITY":
		return []string{"velocity"}
	case "WATERFALL":
		return []string{"waterfall", "bungeecord"}
	default:
		return []string{"paper"}
	}
}

func dedupeSorted(vs []string) []string {
	out := slices.Clone(vs)
	slices.Sort(out)
	return slices.Compact(out)
}
