package aem

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// classicAPI talks to the legacy hypermedia assets API (/api/assets). Paths
// are addressed directly with a .json suffix and responses arrive in a
// Siren-style envelope of entities, properties and links.
type classicAPI struct {
	baseURL string
}

const classicBasePath = "/api/assets"

// Siren class tags the classic API uses to mark entity kinds.
const (
	classFolder = "assets/folder"
	classAsset  = "assets/asset"
)

type sirenLink struct {
	Rel  []string `json:"rel"`
	Href string   `json:"href"`
}

type sirenEntity struct {
	Class      []string       `json:"class"`
	Properties map[string]any `json:"properties"`
	Entities   []sirenEntity  `json:"entities"`
	Links      []sirenLink    `json:"links"`
}

type entityKind int

const (
	entityUnknown entityKind = iota
	entityFolder
	entityAsset
)

// classify maps an entity's class tags onto the canonical kinds. Entities
// carrying neither marker are ignored rather than guessed at from fields.
func classify(class []string) entityKind {
	for _, c := range class {
		switch c {
		case classAsset:
			return entityAsset
		case classFolder:
			return entityFolder
		}
	}
	return entityUnknown
}

func (c *classicAPI) listingRequest(ctx context.Context, path string) (*http.Request, error) {
	u := c.baseURL + classicBasePath + escapePath(normalizePath(path)) + ".json"
	return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
}

// parseListing splits the envelope's child entities into folders and assets,
// preserving source order. Every folder- or asset-classed entity lands in
// exactly one of the two slices.
func (c *classicAPI) parseListing(body []byte) ([]Folder, []Asset, error) {
	var envelope sirenEntity
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, nil, fmt.Errorf("decoding folder listing: %w", err)
	}

	var folders []Folder
	var assets []Asset
	for _, entity := range envelope.Entities {
		switch classify(entity.Class) {
		case entityFolder:
			folders = append(folders, folderFromEntity(entity))
		case entityAsset:
			assets = append(assets, assetFromEntity(entity))
		}
	}
	return folders, assets, nil
}

func (c *classicAPI) parseAsset(body []byte) (Asset, error) {
	var entity sirenEntity
	if err := json.Unmarshal(body, &entity); err != nil {
		return Asset{}, fmt.Errorf("decoding asset detail: %w", err)
	}
	return assetFromEntity(entity), nil
}

// Properties mapped onto struct fields rather than flattened into metadata.
var systemProperties = map[string]bool{
	"name":               true,
	"type":               true,
	"srn:paging":         true,
	"jcr:created":        true,
	"jcr:createdBy":      true,
	"jcr:lastModified":   true,
	"jcr:lastModifiedBy": true,
	"cq:parentPath":      true,
	"cq:name":            true,
}

func folderFromEntity(entity sirenEntity) Folder {
	props := entity.Properties
	return Folder{
		Path:       entityPath(entity),
		Name:       stringProp(props, "name"),
		Title:      stringProp(props, "title", "jcr:title"),
		CreatedAt:  stringProp(props, "jcr:created"),
		CreatedBy:  stringProp(props, "jcr:createdBy"),
		ModifiedAt: stringProp(props, "jcr:lastModified"),
	}
}

func assetFromEntity(entity sirenEntity) Asset {
	props := entity.Properties
	metadata := make(map[string]string)
	for key, value := range props {
		if systemProperties[key] {
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			// The classic API nests dc:* fields under "metadata".
			if key == "metadata" {
				for mk, mv := range nested {
					metadata[mk] = flattenValue(mv)
				}
			}
			continue
		}
		metadata[key] = flattenValue(value)
	}

	return Asset{
		Path:       entityPath(entity),
		Name:       stringProp(props, "name"),
		MimeType:   stringProp(props, "type"),
		Metadata:   metadata,
		CreatedAt:  stringProp(props, "jcr:created"),
		CreatedBy:  stringProp(props, "jcr:createdBy"),
		ModifiedAt: stringProp(props, "jcr:lastModified"),
	}
}

// entityPath derives the repository path from the self link, falling back to
// the name property when no link is present.
func entityPath(entity sirenEntity) string {
	for _, link := range entity.Links {
		for _, rel := range link.Rel {
			if rel != "self" {
				continue
			}
			href := strings.TrimSuffix(link.Href, ".json")
			if idx := strings.Index(href, classicBasePath); idx >= 0 {
				return "/content/dam" + href[idx+len(classicBasePath):]
			}
		}
	}
	return stringProp(entity.Properties, "name")
}

func stringProp(props map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := props[key]; ok {
			if s := flattenValue(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func flattenValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, flattenValue(item))
		}
		return strings.Join(parts, ",")
	case map[string]any:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

// escapePath percent-encodes each segment of a repository path, keeping the
// separators. DAM paths may contain spaces or reserved characters.
func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

// normalizePath ensures a leading slash and strips the /content/dam prefix,
// which the classic API already implies.
func normalizePath(path string) string {
	path = strings.TrimSuffix(path, "/")
	path = strings.TrimPrefix(path, "/content/dam")
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
