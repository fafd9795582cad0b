package registry

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"blockyard/internal/domain"
	"blockyard/internal/util"
)

// SpigetBaseURL is the public Spiget mirror of SpigotMC resources.
const SpigetBaseURL = "https://api.spiget.org"

// Spiget queries SpigotMC through the Spiget v2 API. Spiget publishes no
// dependency data, so its descriptors never declare dependencies.
type Spiget struct {
	client *util.HTTPClient
	base   string
}

var _ Client = (*Spiget)(nil)

// NewSpiget creates a Spiget client. An empty baseURL selects the public API.
func NewSpiget(client *util.HTTPClient, baseURL string) *Spiget {
	if baseURL == "" {
		baseURL = SpigetBaseURL
	}
	return &Spiget{client: client, base: baseURL}
}

func (s *Spiget) Source() string { return SourceSpigotMC }

type spigetResource struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	Tag            string   `json:"tag"`
	Downloads      int64    `json:"downloads"`
	TestedVersions []string `json:"testedVersions"`
	Premium        bool     `json:"premium"`
	Author         struct {
		ID int64 `json:"id"`
	} `json:"author"`
	File struct {
		Type        string `json:"type"`
		ExternalURL string `json:"externalUrl"`
	} `json:"file"`
}

type spigetVersion struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Downloads int64  `json:"downloads"`
}

var spigetTypes = []string{"spigot", "bukkit"}

// Search queries /v2/search/resources by name, most downloaded first.
func (s *Spiget) Search(ctx context.Context, query string, q Query) ([]domain.PluginDescriptor, error) {
	resources, err := s.search(ctx, query, q.limit(20))
	if err != nil {
		return nil, err
	}
	out := make([]domain.PluginDescriptor, 0, len(resources))
	for _, r := range resources {
		if r.Premium {
			continue
		}
		out = append(out, normalizeSpigetResource(r))
	}
	return out, nil
}

func (s *Spiget) search(ctx context.Context, query string, size int) ([]spigetResource, error) {
	params := url.Values{}
	params.Set("field", "name")
	params.Set("size", strconv.Itoa(size))
	params.Set("sort", "-downloads")
	var resources []spigetResource
	endpoint := joinURL(s.base, "v2", "search", "resources", query) + "?" + params.Encode()
	if err := s.client.GetJSON(ctx, endpoint, nil, &resources); err != nil {
		return nil, err
	}
	return resources, nil
}

// FetchVersions resolves name to a resource, by id when numeric and by exact
// name otherwise, then lists its most recent versions.
func (s *Spiget) FetchVersions(ctx context.Context, name string, _ Query) ([]domain.PluginDescriptor, error) {
	res, err := s.resource(ctx, name)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Premium {
		return nil, nil
	}

	params := url.Values{}
	params.Set("size", "25")
	params.Set("sort", "-releaseDate")
	var raw []spigetVersion
	endpoint := joinURL(s.base, "v2", "resources", strconv.FormatInt(res.ID, 10), "versions") + "?" + params.Encode()
	if err := s.client.GetJSON(ctx, endpoint, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]domain.PluginDescriptor, 0, len(raw))
	for _, v := range raw {
		out = append(out, normalizeSpigetVersion(s.base, *res, v))
	}
	return out, nil
}

func (s *Spiget) resource(ctx context.Context, name string) (*spigetResource, error) {
	if _, err := strconv.ParseInt(name, 10, 64); err == nil {
		var res spigetResource
		if err := s.client.GetJSON(ctx, joinURL(s.base, "v2", "resources", name), nil, &res); err != nil {
			return nil, err
		}
		return &res, nil
	}
	candidates, err := s.search(ctx, name, 10)
	if err != nil {
		return nil, fmt.Errorf("look up %s: %w", name, err)
	}
	want := domain.CanonicalName(name)
	for i := range candidates {
		if domain.CanonicalName(candidates[i].Name) == want {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

func normalizeSpigetResource(r spigetResource) domain.PluginDescriptor {
	return domain.PluginDescriptor{
		Name:         r.Name,
		Source:       SourceSpigotMC,
		ProjectID:    strconv.FormatInt(r.ID, 10),
		ServerTypes:  spigetTypes,
		GameVersions: domain.GameVersionRange{Versions: gameVersionsOnly(r.TestedVersions)},
		Description:  r.Tag,
		Author:       strconv.FormatInt(r.Author.ID, 10),
		Downloads:    r.Downloads,
	}
}

func normalizeSpigetVersion(base string, r spigetResource, v spigetVersion) domain.PluginDescriptor {
	d := normalizeSpigetResource(r)
	d.Version = v.Name
	d.VersionID = strconv.FormatInt(v.ID, 10)
	d.Downloads = v.Downloads
	d.Filename = fmt.Sprintf("%s-%s.jar", domain.CanonicalName(r.Name), v.Name)
	d.DownloadURL = joinURL(base, "v2", "resources", d.ProjectID, "versions", d.VersionID, "download")
	return d
}
