package aem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const folderListingFixture = `{
  "entities": [
    {
      "class": ["assets/folder"],
      "properties": {"name": "campaigns", "title": "Campaigns", "jcr:created": "2024-01-10T09:00:00.000Z", "jcr:createdBy": "admin"},
      "links": [{"rel": ["self"], "href": "https://author.example.com/api/assets/marketing/campaigns.json"}]
    },
    {
      "class": ["assets/asset"],
      "properties": {
        "name": "hero.jpg",
        "type": "image/jpeg",
        "jcr:created": "2024-02-01T12:30:00.000Z",
        "metadata": {"dc:title": "Hero shot", "dc:subject": ["summer", "beach"]}
      },
      "links": [{"rel": ["self"], "href": "https://author.example.com/api/assets/marketing/hero.jpg.json"}]
    },
    {
      "class": ["assets/folder"],
      "properties": {"name": "archive", "jcr:title": "Archive"},
      "links": [{"rel": ["self"], "href": "https://author.example.com/api/assets/marketing/archive.json"}]
    },
    {
      "class": ["some/other"],
      "properties": {"name": "ignored"}
    }
  ]
}`

func TestParseListingPartitionsByClass(t *testing.T) {
	api := &classicAPI{baseURL: "https://author.example.com"}
	folders, assets, err := api.parseListing([]byte(folderListingFixture))
	require.NoError(t, err)

	require.Len(t, folders, 2)
	require.Len(t, assets, 1)

	// Source order is preserved within each slice.
	assert.Equal(t, "campaigns", folders[0].Name)
	assert.Equal(t, "archive", folders[1].Name)
	assert.Equal(t, "/content/dam/marketing/campaigns", folders[0].Path)
	assert.Equal(t, "Campaigns", folders[0].Title)
	assert.Equal(t, "Archive", folders[1].Title, "jcr:title is a fallback for title")
	assert.Equal(t, "2024-01-10T09:00:00.000Z", folders[0].CreatedAt)
	assert.Equal(t, "admin", folders[0].CreatedBy)

	asset := assets[0]
	assert.Equal(t, "hero.jpg", asset.Name)
	assert.Equal(t, "/content/dam/marketing/hero.jpg", asset.Path)
	assert.Equal(t, "image/jpeg", asset.MimeType)
}

func TestParseListingFlattensNestedMetadata(t *testing.T) {
	api := &classicAPI{baseURL: "https://author.example.com"}
	_, assets, err := api.parseListing([]byte(folderListingFixture))
	require.NoError(t, err)
	require.Len(t, assets, 1)

	metadata := assets[0].Metadata
	assert.Equal(t, "Hero shot", metadata["dc:title"])
	assert.Equal(t, "summer,beach", metadata["dc:subject"], "array values join with commas")
	assert.NotContains(t, metadata, "name", "system properties stay out of metadata")
	assert.NotContains(t, metadata, "jcr:created")
}

func TestParseListingEmptyEnvelope(t *testing.T) {
	api := &classicAPI{baseURL: "https://author.example.com"}
	folders, assets, err := api.parseListing([]byte(`{"entities": []}`))
	require.NoError(t, err)
	assert.Empty(t, folders)
	assert.Empty(t, assets)
}

func TestParseListingMalformedBody(t *testing.T) {
	api := &classicAPI{baseURL: "https://author.example.com"}
	_, _, err := api.parseListing([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseAssetDetail(t *testing.T) {
	body := `{
	  "class": ["assets/asset"],
	  "properties": {
	    "name": "logo.png",
	    "type": "image/png",
	    "jcr:lastModified": "2024-03-03T08:00:00.000Z",
	    "status": "approved",
	    "metadata": {"dc:creator": "design-team"}
	  },
	  "links": [{"rel": ["self"], "href": "https://author.example.com/api/assets/brand/logo.png.json"}]
	}`

	api := &classicAPI{baseURL: "https://author.example.com"}
	asset, err := api.parseAsset([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "/content/dam/brand/logo.png", asset.Path)
	assert.Equal(t, "image/png", asset.MimeType)
	assert.Equal(t, "2024-03-03T08:00:00.000Z", asset.ModifiedAt)
	assert.Equal(t, "approved", asset.Metadata["status"], "top-level non-system properties land in metadata")
	assert.Equal(t, "design-team", asset.Metadata["dc:creator"])
}

func TestEntityPathFallsBackToName(t *testing.T) {
	entity := sirenEntity{Properties: map[string]any{"name": "orphan.jpg"}}
	assert.Equal(t, "orphan.jpg", entityPath(entity))
}

func TestEscapePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/marketing", "/marketing"},
		{"/summer sale", "/summer%20sale"},
		{"/q2/50% off.jpg", "/q2/50%25%20off.jpg"},
		{"/a#1", "/a%231"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, escapePath(tc.in), "input %q", tc.in)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/", ""},
		{"", ""},
		{"/marketing", "/marketing"},
		{"marketing", "/marketing"},
		{"/marketing/", "/marketing"},
		{"/content/dam/marketing", "/marketing"},
		{"/content/dam", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizePath(tc.in), "input %q", tc.in)
	}
}
