package models

// FileStatus is one entry of the directory listing.
type FileStatus struct {
	Size         string `json:"size"`
	LastModified string `json:"lastModified"`
	Owner        string `json:"owner"`
	File         string `json:"file"`
}
