package octoprint

// FileList is the body of GET /api/files.
type FileList struct {
	Files []File `json:"files"`
	Free  int64  `json:"free,omitempty"`
	Total int64  `json:"total,omitempty"`
}

// File is a stored model, G-code file or folder.
type File struct {
	Name     string `json:"name"`
	Display  string `json:"display,omitempty"`
	Path     string `json:"path"`
	Type     string `json:"type"`
	Origin   string `json:"origin,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Children []File `json:"children,omitempty"`
}

// Flatten lists every non-folder entry of the tree, depth first.
func (l FileList) Flatten() []File {
	var out []File
	var walk func([]File)
	walk = func(files []File) {
		for _, f := range files {
			if f.Type == "folder" {
				walk(f.Children)
				continue
			}
			out = append(out, f)
		}
	}
	walk(l.Files)
	return out
}

type SlicingProfile struct {
	Key         string `json:"key"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
	Default     bool   `json:"default"`
}

// SliceRequest is the body of POST /api/files/local/{path} with command slice.
type SliceRequest struct {
	Command        string `json:"command"`
	Slicer         string `json:"slicer"`
	Profile        string `json:"profile"`
	PrinterProfile string `json:"printerProfile,omitempty"`
	GCode          string `json:"gcode,omitempty"`
	Select         bool   `json:"select,omitempty"`
	Print          bool   `json:"print,omitempty"`
}

type selectRequest struct {
	Command string `json:"command"`
	Print   bool   `json:"print"`
}

// JobStatus is the body of GET /api/job.
type JobStatus struct {
	State string `json:"state"`
	Job   struct {
		File struct {
			Name string `json:"name"`
			Path string `json:"path"`
		} `json:"file"`
		EstimatedPrintTime float64 `json:"estimatedPrintTime"`
	} `json:"job"`
	Progress struct {
		Completion    *float64 `json:"completion"`
		PrintTime     *int     `json:"printTime"`
		PrintTimeLeft *int     `json:"printTimeLeft"`
	} `json:"progress"`
}
