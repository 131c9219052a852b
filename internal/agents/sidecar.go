// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package agents

import (
	"context"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/afero"

	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/media"
)

// SidecarAgent reads metadata files living next to the media: `<base>.nfo`
// (Kodi-style XML) and `<base>.metadata.json`. A parse failure is
// ArtifactCorrupt: logged by the caller, never fatal to the item.
type SidecarAgent struct {
	fs afero.Fs
}

// NewSidecarAgent reads through fs; tests pass a memfs.
func NewSidecarAgent(fs afero.Fs) *SidecarAgent {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &SidecarAgent{fs: fs}
}

func (a *SidecarAgent) Name() string       { return "sidecar" }
func (a *SidecarAgent) Category() Category { return CategorySidecar }

func (a *SidecarAgent) AppliesTo() []media.MetadataType {
	return []media.MetadataType{
		media.TypeMovie, media.TypeShow, media.TypeSeason, media.TypeEpisode,
		media.TypeAlbumRelease, media.TypeTrack,
	}
}

// Fetch looks for sidecars next to the item's first part. No part or no
// sidecar file simply yields no opinion.
func (a *SidecarAgent) Fetch(_ context.Context, req Request) (*Result, error) {
	if req.Media == nil || len(req.Media.Parts) == 0 {
		return nil, nil
	}
	base := strings.TrimSuffix(req.Media.Parts[0].Path, filepath.Ext(req.Media.Parts[0].Path))

	if raw, err := afero.ReadFile(a.fs, base+".metadata.json"); err == nil {
		return parseJSONSidecar(raw)
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	if raw, err := afero.ReadFile(a.fs, base+".nfo"); err == nil {
		return parseNFO(raw)
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	return nil, nil
}

// jsonSidecar is the `<base>.metadata.json` shape.
type jsonSidecar struct {
	Title         string            `json:"title"`
	OriginalTitle string            `json:"originalTitle"`
	SortTitle     string            `json:"sortTitle"`
	Year          int               `json:"year"`
	ReleaseDate   string            `json:"releaseDate"`
	Summary       string            `json:"summary"`
	Tagline       string            `json:"tagline"`
	Studio        string            `json:"studio"`
	ContentRating string            `json:"contentRating"`
	Genres        []string          `json:"genres"`
	ExternalIDs   map[string]string `json:"externalIds"`
	Extra         map[string]string `json:"extra"`
}

func parseJSONSidecar(raw []byte) (*Result, error) {
	var sc jsonSidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, errdef.Wrap(errdef.KindArtifactCorrupt, err, "parse metadata.json sidecar")
	}
	r := &Result{
		Genres:      sc.Genres,
		ExternalIDs: sc.ExternalIDs,
		Extra:       sc.Extra,
	}
	setString(&r.Title, sc.Title)
	setString(&r.OriginalTitle, sc.OriginalTitle)
	setString(&r.SortTitle, sc.SortTitle)
	setString(&r.Summary, sc.Summary)
	setString(&r.Tagline, sc.Tagline)
	setString(&r.Studio, sc.Studio)
	setString(&r.ContentRating, sc.ContentRating)
	if sc.Year > 0 {
		r.Year = &sc.Year
	}
	if t, err := time.Parse("2006-01-02", sc.ReleaseDate); err == nil {
		r.ReleaseDate = &t
	}
	return r, nil
}

// nfo is the subset of the Kodi NFO schema the server understands. The root
// element name varies by type (movie, tvshow, episodedetails); fields are
// shared.
type nfo struct {
	Title         string   `xml:"title"`
	OriginalTitle string   `xml:"originaltitle"`
	SortTitle     string   `xml:"sorttitle"`
	Year          int      `xml:"year"`
	Premiered     string   `xml:"premiered"`
	Plot          string   `xml:"plot"`
	Tagline       string   `xml:"tagline"`
	Studio        string   `xml:"studio"`
	MPAA          string   `xml:"mpaa"`
	Genres        []string `xml:"genre"`
	UniqueIDs     []nfoID  `xml:"uniqueid"`
	Actors        []struct {
		Name  string `xml:"name"`
		Role  string `xml:"role"`
		Order int    `xml:"order"`
		Thumb string `xml:"thumb"`
	} `xml:"actor"`
	Directors []string `xml:"director"`
	Writers   []string `xml:"credits"`
}

type nfoID struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

func parseNFO(raw []byte) (*Result, error) {
	var doc nfo
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, errdef.Wrap(errdef.KindArtifactCorrupt, err, "parse nfo sidecar")
	}
	r := &Result{Genres: doc.Genres}
	setString(&r.Title, doc.Title)
	setString(&r.OriginalTitle, doc.OriginalTitle)
	setString(&r.SortTitle, doc.SortTitle)
	setString(&r.Summary, doc.Plot)
	setString(&r.Tagline, doc.Tagline)
	setString(&r.Studio, doc.Studio)
	setString(&r.ContentRating, doc.MPAA)
	if doc.Year > 0 {
		r.Year = &doc.Year
	}
	if t, err := time.Parse("2006-01-02", doc.Premiered); err == nil {
		r.ReleaseDate = &t
	}
	for _, id := range doc.UniqueIDs {
		if id.Type == "" || strings.TrimSpace(id.Value) == "" {
			continue
		}
		if r.ExternalIDs == nil {
			r.ExternalIDs = make(map[string]string)
		}
		r.ExternalIDs[strings.ToLower(id.Type)] = strings.TrimSpace(id.Value)
	}
	for _, a := range doc.Actors {
		if a.Name == "" {
			continue
		}
		r.People = append(r.People, PersonCredit{
			Name: a.Name, Role: a.Role, Relation: media.RelActor,
			Ordering: a.Order, ThumbURI: a.Thumb,
		})
	}
	for i, name := range doc.Directors {
		r.People = append(r.People, PersonCredit{Name: name, Relation: media.RelDirector, Ordering: i})
	}
	for i, name := range doc.Writers {
		r.People = append(r.People, PersonCredit{Name: name, Relation: media.RelWriter, Ordering: i})
	}
	return r, nil
}

func setString(dst **string, v string) {
	if s := strings.TrimSpace(v); s != "" {
		*dst = &s
	}
}

// ProvideImages returns artwork files next to the media: `<base>-poster.jpg`,
// `poster.jpg`, `fanart.jpg` and friends. Local files always outrank remote
// candidates.
func (a *SidecarAgent) ProvideImages(_ context.Context, req Request) ([]ImageCandidate, error) {
	if req.Media == nil || len(req.Media.Parts) == 0 {
		return nil, nil
	}
	partPath := req.Media.Parts[0].Path
	dir := filepath.Dir(partPath)
	base := strings.TrimSuffix(filepath.Base(partPath), filepath.Ext(partPath))

	var out []ImageCandidate
	probe := func(role ImageRole, names ...string) {
		for _, name := range names {
			p := filepath.Join(dir, name)
			if ok, _ := afero.Exists(a.fs, p); ok {
				out = append(out, ImageCandidate{Role: role, URI: p, Source: CategorySidecar, Score: 1})
				return
			}
		}
	}
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".webp"} {
		probe(RolePoster, base+"-poster"+ext, "poster"+ext, "folder"+ext)
		probe(RoleBackdrop, base+"-fanart"+ext, "fanart"+ext, "backdrop"+ext)
		probe(RoleLogo, base+"-clearlogo"+ext, "clearlogo"+ext, "logo"+ext)
	}
	return dedupeByRole(out), nil
}

func dedupeByRole(in []ImageCandidate) []ImageCandidate {
	seen := make(map[ImageRole]bool)
	var out []ImageCandidate
	for _, c := range in {
		if seen[c.Role] {
			continue
		}
		seen[c.Role] = true
		out = append(out, c)
	}
	return out
}
