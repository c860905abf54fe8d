package arturo

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/harunnryd/arturo/pkg/errorsx"
	"github.com/harunnryd/arturo/pkg/octoprint"
	"github.com/harunnryd/arturo/pkg/preferences"
	"github.com/harunnryd/arturo/pkg/slicer"
	"github.com/harunnryd/arturo/pkg/tools"
	"github.com/harunnryd/arturo/pkg/webfetch"
)

// ToolNames lists every tool the model is offered, in registration order.
var ToolNames = []string{
	"slice_model",
	"view_gcode",
	"list_stl_files",
	"set_preference",
	"load_preferences",
	"toggle_silent_mode",
	"fetch_local_url_content",
	"octoprint_list_files",
	"octoprint_list_slicing_profiles",
	"octoprint_slice_model",
	"octoprint_start_print",
	"octoprint_job_status",
}

// ModeSwitch flips between voice and silent operation.
type ModeSwitch interface {
	Set(silent bool) string
}

// Toolset binds the tool handlers to their collaborators.
type Toolset struct {
	Slicer      *slicer.Service
	Preferences *preferences.Store
	Mode        ModeSwitch
	Fetcher     *webfetch.Fetcher
	OctoPrint   *octoprint.Client
}

type sliceModelArgs struct {
	FilePath   string `json:"file_path" jsonschema_description:"Model identifier: a file name in the default folder, an index number from list_stl_files, or an absolute path."`
	OutputPath string `json:"output_path,omitempty" jsonschema_description:"Optional path for the G-code. Defaults to the model name with a .gcode extension next to the model."`
}

type viewGCodeArgs struct {
	GCodeFilePath string `json:"gcode_file_path" jsonschema_description:"G-code file name in the default folder or absolute path. Empty opens the last sliced file."`
}

type setPreferenceArgs struct {
	Key   string `json:"key" jsonschema_description:"Preference name, for example default_material."`
	Value string `json:"value" jsonschema_description:"Preference value. Numbers are stored as numbers."`
}

func (a *setPreferenceArgs) Validate() error {
	if strings.TrimSpace(a.Key) == "" {
		return fmt.Errorf("key is required")
	}
	return nil
}

type toggleSilentArgs struct {
	State bool `json:"state" jsonschema_description:"true enables silent mode, false resumes voice responses."`
}

type fetchURLArgs struct {
	URL string `json:"url" jsonschema_description:"Full local URL to fetch, for example http://octoprint.local/api/job."`
}

type octoListFilesArgs struct {
	Location  string `json:"location,omitempty" jsonschema_description:"Storage location: local or sdcard. Defaults to local."`
	Recursive *bool  `json:"recursive,omitempty" jsonschema_description:"List folders recursively. Defaults to true."`
}

type octoProfilesArgs struct {
	SlicerName string `json:"slicer_name" jsonschema_description:"Slicer name on OctoPrint, for example cura or prusa."`
}

type octoSliceArgs struct {
	FilePath          string `json:"file_path_on_octoprint" jsonschema_description:"Path of the model on OctoPrint, for example models/part.stl."`
	SlicerName        string `json:"slicer_name" jsonschema_description:"Slicer to use, for example cura or prusa."`
	SlicingProfileKey string `json:"slicing_profile_key" jsonschema_description:"Slicing profile key for the chosen slicer."`
	PrinterProfileKey string `json:"printer_profile_key,omitempty" jsonschema_description:"Printer profile key. Defaults to _default."`
	OutputGCodeName   string `json:"output_gcode_name,omitempty" jsonschema_description:"Optional name for the generated G-code."`
	PrintAfterSlice   bool   `json:"print_after_slice,omitempty" jsonschema_description:"Start printing once slicing completes. Defaults to false."`
}

type octoStartPrintArgs struct {
	FilePath string `json:"file_path_on_octoprint" jsonschema_description:"Path of the G-code file on OctoPrint."`
}

// Register adds every tool to reg and checks that none is missing.
func (t *Toolset) Register(reg *tools.Registry) error {
	defs := []tools.Definition{
		tools.Define("slice_model",
			"Slices a 3D model (STL, 3MF, OBJ) with the local slicer and returns the path of the generated G-code.",
			t.sliceModel),
		tools.Define("view_gcode",
			"Opens a .gcode file in the local G-code viewer.",
			t.viewGCode),
		tools.Define("list_stl_files",
			"Lists the 3D printable files (STL, 3MF, OBJ) in the default model folder as a numbered list.",
			t.listModels),
		tools.Define("set_preference",
			"Stores one user preference, for example the default material or printer profile.",
			t.setPreference),
		tools.Define("load_preferences",
			"Returns every stored user preference as JSON.",
			t.loadPreferences),
		tools.Define("toggle_silent_mode",
			"Enables or disables silent mode. In silent mode the assistant reads typed input and answers with text only.",
			t.toggleSilent),
		tools.Define("fetch_local_url_content",
			"Fetches a page on the local network, such as a printer status page, and returns it as markdown.",
			t.fetchURL),
		tools.Define("octoprint_list_files",
			"Lists the files stored on OctoPrint.",
			t.octoListFiles),
		tools.Define("octoprint_list_slicing_profiles",
			"Lists the slicing profiles OctoPrint has for a slicer.",
			t.octoProfiles),
		tools.Define("octoprint_slice_model",
			"Slices a model stored on OctoPrint with the given slicer and profile, optionally printing it afterwards.",
			t.octoSlice),
		tools.Define("octoprint_start_print",
			"Selects a G-code file on OctoPrint and starts printing it.",
			t.octoStartPrint),
		tools.Define("octoprint_job_status",
			"Reports the current OctoPrint job: state, file and progress.",
			t.octoJobStatus),
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return reg.Validate(ToolNames...)
}

func (t *Toolset) sliceModel(ctx context.Context, args sliceModelArgs) (string, error) {
	return t.Slicer.Slice(ctx, args.FilePath, args.OutputPath).JSON(), nil
}

func (t *Toolset) viewGCode(_ context.Context, args viewGCodeArgs) (string, error) {
	return t.Slicer.ViewGCode(args.GCodeFilePath).JSON(), nil
}

func (t *Toolset) listModels(_ context.Context, _ tools.NoArgs) (string, error) {
	files, err := t.Slicer.ListModels()
	if err != nil {
		return fmt.Sprintf("The default model folder is not available: %v", err), nil
	}
	if len(files) == 0 {
		return "I found no printable files in the default folder.", nil
	}
	var b strings.Builder
	b.WriteString("Here are the files I found:\n")
	for i, name := range files {
		fmt.Fprintf(&b, "%d. %s\n", i+1, name)
	}
	b.WriteString("Which file do you want to slice, by name or number?")
	return b.String(), nil
}

func (t *Toolset) setPreference(_ context.Context, args setPreferenceArgs) (string, error) {
	stored, err := t.Preferences.Set(args.Key, args.Value)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonPreferenceStore)
	}
	return fmt.Sprintf("Ok, I set %s to %v.", strings.TrimSpace(args.Key), stored), nil
}

func (t *Toolset) loadPreferences(_ context.Context, _ tools.NoArgs) (string, error) {
	prefs, err := t.Preferences.Load()
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonPreferenceStore)
	}
	data, err := json.Marshal(prefs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (t *Toolset) toggleSilent(_ context.Context, args toggleSilentArgs) (string, error) {
	return t.Mode.Set(args.State), nil
}

func (t *Toolset) fetchURL(ctx context.Context, args fetchURLArgs) (string, error) {
	text, err := t.Fetcher.Fetch(ctx, args.URL)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonFetch)
	}
	return text, nil
}

func (t *Toolset) octoListFiles(ctx context.Context, args octoListFilesArgs) (string, error) {
	location := strings.TrimSpace(args.Location)
	if location == "" {
		location = "local"
	}
	recursive := true
	if args.Recursive != nil {
		recursive = *args.Recursive
	}
	list, err := t.OctoPrint.ListFiles(ctx, location, recursive)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonOctoPrintRequest)
	}
	files := list.Flatten()
	if len(files) == 0 {
		return fmt.Sprintf("No files on OctoPrint (%s).", location), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Files on OctoPrint (%s):\n", location)
	for _, f := range files {
		fmt.Fprintf(&b, "- %s (%s)\n", f.Path, f.Type)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (t *Toolset) octoProfiles(ctx context.Context, args octoProfilesArgs) (string, error) {
	profiles, err := t.OctoPrint.SlicingProfiles(ctx, args.SlicerName)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonOctoPrintRequest)
	}
	if len(profiles) == 0 {
		return fmt.Sprintf("No slicing profiles for %s.", args.SlicerName), nil
	}
	keys := make([]string, 0, len(profiles))
	for k := range profiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	fmt.Fprintf(&b, "Slicing profiles for %s:\n", args.SlicerName)
	for _, k := range keys {
		p := profiles[k]
		line := "- " + k
		if p.DisplayName != "" && p.DisplayName != k {
			line += " (" + p.DisplayName + ")"
		}
		if p.Default {
			line += " [default]"
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (t *Toolset) octoSlice(ctx context.Context, args octoSliceArgs) (string, error) {
	printer := strings.TrimSpace(args.PrinterProfileKey)
	if printer == "" {
		printer = "_default"
	}
	req := octoprint.SliceRequest{
		Command:        "slice",
		Slicer:         args.SlicerName,
		Profile:        args.SlicingProfileKey,
		PrinterProfile: printer,
		GCode:          strings.TrimSpace(args.OutputGCodeName),
		Print:          args.PrintAfterSlice,
		Select:         args.PrintAfterSlice,
	}
	if err := t.OctoPrint.Slice(ctx, args.FilePath, req); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonOctoPrintRequest)
	}
	msg := fmt.Sprintf("Slicing of %s started on OctoPrint with profile %s.", path.Base(args.FilePath), args.SlicingProfileKey)
	if args.PrintAfterSlice {
		msg += " The print will start when slicing completes."
	}
	return msg, nil
}

func (t *Toolset) octoStartPrint(ctx context.Context, args octoStartPrintArgs) (string, error) {
	if err := t.OctoPrint.StartPrint(ctx, args.FilePath); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonOctoPrintRequest)
	}
	return fmt.Sprintf("Printing %s.", args.FilePath), nil
}

func (t *Toolset) octoJobStatus(ctx context.Context, _ tools.NoArgs) (string, error) {
	job, err := t.OctoPrint.Job(ctx)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonOctoPrintRequest)
	}
	if job.Job.File.Name == "" {
		return fmt.Sprintf("Printer state: %s. No file selected.", job.State), nil
	}
	msg := fmt.Sprintf("Printer state: %s. File: %s.", job.State, job.Job.File.Name)
	if job.Progress.Completion != nil {
		msg += fmt.Sprintf(" Progress: %.0f%%.", *job.Progress.Completion)
	}
	if job.Progress.PrintTimeLeft != nil {
		msg += fmt.Sprintf(" Time left: %d min.", *job.Progress.PrintTimeLeft/60)
	}
	return msg, nil
}
