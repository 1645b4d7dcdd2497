package media

// FileState is the upstream processing state of an uploaded file.
type FileState string

const (
	StateUnspecified FileState = "STATE_UNSPECIFIED"
	StateProcessing  FileState = "PROCESSING"
	StateActive      FileState = "ACTIVE"
	StateFailed      FileState = "FAILED"
)

// Ready reports whether the file can be referenced by a generation request.
func (s FileState) Ready() bool { return s == StateActive }

// Failed reports whether upstream gave up processing the file.
func (s FileState) Failed() bool { return s == StateFailed }

// FileHandle identifies uploaded media inside the upstream system.
type FileHandle struct {
	URI  string `json:"fileUri"`
	Name string `json:"fileName"`
}

// UploadRequest asks upstream for a single-use resumable upload target.
type UploadRequest struct {
	MIMEType    string `json:"mimeType"`
	NumBytes    int64  `json:"numBytes"`
	DisplayName string `json:"displayName"`
}
