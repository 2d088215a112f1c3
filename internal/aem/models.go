package aem

// Folder is the canonical representation of a DAM folder. The path is the
// identifier; AEM has no separate id space for folders in either API.
type Folder struct {
	Path       string `json:"path"`
	Name       string `json:"name"`
	Title      string `json:"title,omitempty"`
	CreatedAt  string `json:"createdAt,omitempty"`
	CreatedBy  string `json:"createdBy,omitempty"`
	ModifiedAt string `json:"modifiedAt,omitempty"`
}

// Asset is the canonical representation of a DAM asset. Metadata is a flat
// key-value view of the fields AEM nests internally.
type Asset struct {
	Path       string            `json:"path"`
	Name       string            `json:"name"`
	MimeType   string            `json:"mimeType,omitempty"`
	Published  bool              `json:"published,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  string            `json:"createdAt,omitempty"`
	CreatedBy  string            `json:"createdBy,omitempty"`
	ModifiedAt string            `json:"modifiedAt,omitempty"`
}

// BulkFailure records one asset that could not be updated during a bulk run.
type BulkFailure struct {
	Path      string `json:"path"`
	ErrorKind string `json:"errorKind"`
	Message   string `json:"message"`
}

// BulkUpdateResult is the single final report of a bulk metadata update.
// Succeeded and Failed preserve the order assets were listed in.
type BulkUpdateResult struct {
	FolderPath string        `json:"folderPath"`
	Requested  int           `json:"requested"`
	Succeeded  []string      `json:"succeeded"`
	Failed     []BulkFailure `json:"failed"`
}
