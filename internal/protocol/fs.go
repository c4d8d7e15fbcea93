package protocol

// ModificationType classifies a Modified file event.
type ModificationType string

const (
	ModContent  ModificationType = "Content"
	ModMetadata ModificationType = "Metadata"
	ModName     ModificationType = "Name"
	ModOther    ModificationType = "Other"
	ModCreate   ModificationType = "Create"
	ModRemove   ModificationType = "Remove"
)

type FileMetadata struct {
	Size        int64  `json:"size"`
	IsDirectory bool   `json:"is_directory"`
	IsSymlink   bool   `json:"is_symlink"`
	CreatedAt   *int64 `json:"created_at,omitempty"`
	ModifiedAt  *int64 `json:"modified_at,omitempty"`
	Readonly    bool   `json:"readonly"`
}

// FileEntry is one element of a DirectoryContent listing. Paths are absolute.
type FileEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	IsDirectory bool   `json:"is_directory"`
	Size        int64  `json:"size"`
	IsLoaded    bool   `json:"is_loaded"`
}

type DirectoryContent struct {
	Path    string      `json:"path"`
	Content []FileEntry `json:"content"`
}

type CreatedEvent struct {
	Path        string       `json:"path"`
	TimestampMs int64        `json:"timestamp_ms"`
	Metadata    FileMetadata `json:"metadata"`
}

type ModifiedEvent struct {
	Path             string           `json:"path"`
	TimestampMs      int64            `json:"timestamp_ms"`
	ModificationType ModificationType `json:"modification_type"`
	NewMetadata      FileMetadata     `json:"new_metadata"`
}

type DeletedEvent struct {
	Path        string `json:"path"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// FileEvent is externally tagged on the wire: exactly one field is set.
type FileEvent struct {
	Created  *CreatedEvent  `json:"Created,omitempty"`
	Modified *ModifiedEvent `json:"Modified,omitempty"`
	Deleted  *DeletedEvent  `json:"Deleted,omitempty"`
}

type FileSystemEvents struct {
	Events []FileEvent `json:"events"`
}

type DocumentMetadata struct {
	FileMetadata
	FileType string `json:"file_type,omitempty"`
	Encoding struct {
		Encoding   string  `json:"encoding"`
		Confidence float64 `json:"confidence"`
	} `json:"encoding"`
	LineEnding string `json:"line_ending,omitempty"`
}

type DocumentContent struct {
	Path     string            `json:"path"`
	Content  string            `json:"content"`
	Version  int               `json:"version"`
	Metadata *DocumentMetadata `json:"metadata,omitempty"`
}
