package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/h4ckmm3/save-backup/pkg/archivelayout"
	"github.com/h4ckmm3/save-backup/pkg/archiver"
	"github.com/h4ckmm3/save-backup/pkg/backupstore"
	"github.com/h4ckmm3/save-backup/pkg/buildinfo"
	"github.com/h4ckmm3/save-backup/pkg/config"
	"github.com/h4ckmm3/save-backup/pkg/flagparse"
	"github.com/h4ckmm3/save-backup/pkg/hints"
	"github.com/h4ckmm3/save-backup/pkg/plog"
	"github.com/h4ckmm3/save-backup/pkg/preflight"
	"github.com/h4ckmm3/save-backup/pkg/session"
	"github.com/h4ckmm3/save-backup/pkg/watcher"
)

// logFileName is the file sink inside the backup root's logs folder.
const logFileName = "save-backup.log"

// action defines which operation to execute for this invocation.
type action int

const (
	actionNone action = iota
	actionBackupFile
	actionBuildArchive
	actionWatch
	actionList
	actionInitConfig
	actionShowVersion
)

// init is called before main. We use it to set up a custom, more descriptive
// help message for the command-line flags.
func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s (version %s):\n", buildinfo.Name, buildinfo.Version)
		fmt.Fprintf(flag.CommandLine.Output(), "Keeps versioned before/after copies of edited website files in a backup tree.\n\n")
		flag.PrintDefaults()
	}
}

// parseFlagConfig defines and parses command-line flags, and constructs a
// configuration map containing only the values provided by those flags.
func parseFlagConfig() (action, map[string]interface{}, error) {
	rootFlag := flag.String("root", "", "Backup root directory. (Required)")
	backupFlag := flag.String("backup", "", "Back up the given file and exit.")
	modeFlag := flag.String("mode", "auto", "Backup mode: 'auto', 'before' or 'after'.")
	taskFlag := flag.String("task", "", "Task id; copies go into a task_<id> folder inside the month bucket.")
	archiveFlag := flag.String("archive", "", "Build an archive of the given folder inside the backup tree and exit.")
	typeFlag := flag.String("type", "", "Archive type tag for -archive: 'before' or 'after'.")
	formatFlag := flag.String("format", "", "Archive format: 'zip' or 'tar.gz'.")
	watchFlag := flag.String("watch", "", "Comma-separated files or directories to watch; back up on every change.")
	debounceMSFlag := flag.Int("debounce-ms", 0, "Milliseconds a watched file must stay quiet before it is backed up.")
	listFlag := flag.Bool("list", false, "List sites, months and backup folders in the tree and exit.")
	initFlag := flag.Bool("init", false, "Generate a default save-backup.config.json in the root and exit.")
	logLevelFlag := flag.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	excludeFlag := flag.String("exclude", "", "Comma-separated list of case-insensitive file patterns to exclude (supports glob patterns).")
	markersFlag := flag.String("markers", "", "Comma-separated list of additional web-root folder names for site resolution.")
	versionFlag := flag.Bool("version", false, "Print the application version and exit.")

	flag.Parse()

	// Create a map of the flags that were explicitly set by the user, along
	// with their values. This map is used to selectively override the base
	// configuration.
	usedFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]interface{})

	addIfUsed := func(name string, value interface{}) {
		if usedFlags[name] {
			flagMap[name] = value
		}
	}
	addParsedIfUsed := func(name string, rawValue string, parser func(string) []string) {
		if usedFlags[name] {
			flagMap[name] = parser(rawValue)
		}
	}

	addIfUsed("root", *rootFlag)
	addIfUsed("log-level", *logLevelFlag)
	addIfUsed("format", *formatFlag)
	addIfUsed("debounce-ms", *debounceMSFlag)
	addIfUsed("backup", *backupFlag)
	addIfUsed("archive", *archiveFlag)
	addIfUsed("type", *typeFlag)
	addIfUsed("task", *taskFlag)
	addIfUsed("watch", *watchFlag)

	addParsedIfUsed("exclude", *excludeFlag, flagparse.ParseExcludeList)
	addParsedIfUsed("markers", *markersFlag, flagparse.ParseMarkerList)

	// Validate enum-like flags at the boundary so bad values fail before any
	// filesystem work happens.
	mode, err := backupstore.ModeFromString(*modeFlag)
	if err != nil {
		return actionNone, nil, err
	}
	flagMap["mode"] = mode

	if usedFlags["format"] {
		if _, err := archiver.FormatFromString(*formatFlag); err != nil {
			return actionNone, nil, err
		}
	}
	switch *typeFlag {
	case "", archivelayout.BeforeDirName, archivelayout.AfterDirName:
	default:
		return actionNone, nil, fmt.Errorf("invalid archive type %q: must be '%s' or '%s'",
			*typeFlag, archivelayout.BeforeDirName, archivelayout.AfterDirName)
	}

	// Determine which action to take based on flags.
	switch {
	case *versionFlag:
		return actionShowVersion, flagMap, nil
	case *initFlag:
		return actionInitConfig, flagMap, nil
	case *listFlag:
		return actionList, flagMap, nil
	case *archiveFlag != "":
		return actionBuildArchive, flagMap, nil
	case *watchFlag != "":
		return actionWatch, flagMap, nil
	case *backupFlag != "":
		return actionBackupFile, flagMap, nil
	default:
		return actionNone, flagMap, nil
	}
}

// loadRunConfig loads the config file from the backup root and merges the
// flag values over it.
func loadRunConfig(flagMap map[string]interface{}) (config.Config, error) {
	rootPath, ok := flagMap["root"].(string)
	if !ok || rootPath == "" {
		return config.Config{}, fmt.Errorf("the -root flag is required")
	}

	loadedConfig, err := config.Load(rootPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration from root: %w", err)
	}

	runConfig := config.MergeWithFlags(loadedConfig, flagMap)
	if err := runConfig.Validate(); err != nil {
		return config.Config{}, err
	}

	// Set the global log level based on the final configuration.
	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))
	return runConfig, nil
}

// openStore runs the preflight checks, attaches the file log sink under the
// backup root and opens the store.
func openStore(runConfig config.Config) (*backupstore.Store, error) {
	if err := preflight.CheckBackupRoot(runConfig.Root, preflight.MinFreeBytes); err != nil {
		return nil, err
	}
	store, err := backupstore.Open(runConfig.Root, runConfig.ExcludeFiles(), runConfig.SiteMarkers...)
	if err != nil {
		return nil, err
	}
	logPath := filepath.Join(runConfig.Root, archivelayout.LogsDirName, logFileName)
	if err := plog.AddFileSink(logPath); err != nil {
		// A missing log file never blocks a backup.
		plog.Warn("Could not attach log file", "path", logPath, "error", err)
	}
	return store, nil
}

// runBackupFile handles the logic for the single-file backup action.
func runBackupFile(runConfig config.Config, flagMap map[string]interface{}, sess *session.Session) error {
	filePath := flagMap["backup"].(string)
	mode := flagMap["mode"].(backupstore.Mode)

	store, err := openStore(runConfig)
	if err != nil {
		return err
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("could not resolve file path %s: %w", filePath, err)
	}

	result, err := store.BackupFile(absPath, mode, sess.Task())
	if err != nil {
		return err
	}
	plog.Info("Backup complete",
		"site", result.Site,
		"relative", result.RelativePath,
		"before_dir", result.BeforeDir,
		"after_dir", result.AfterDir,
		"session", sess.ID())
	return nil
}

// runBuildArchive handles the logic for the archive action.
func runBuildArchive(ctx context.Context, runConfig config.Config, flagMap map[string]interface{}, sess *session.Session) error {
	folder := flagMap["archive"].(string)
	folderType, _ := flagMap["type"].(string)

	if err := preflight.CheckBackupRoot(runConfig.Root, preflight.MinFreeBytes); err != nil {
		return err
	}

	format, err := archiver.FormatFromString(runConfig.Archive.Format)
	if err != nil {
		return err
	}

	absFolder, err := filepath.Abs(folder)
	if err != nil {
		return fmt.Errorf("could not resolve archive folder %s: %w", folder, err)
	}

	startTime := time.Now()
	builder := archiver.New(format, 0)
	archivePath, err := builder.BuildForLayout(ctx, archivelayout.New(runConfig.Root), absFolder, folderType)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err
	}
	plog.Info("Archive complete", "archive", archivePath, "duration", duration)

	// A finished archive ends the working session on the current task.
	sess.ResetTask()
	return nil
}

// runWatch handles the logic for the watch action. It blocks until the
// context is cancelled.
func runWatch(ctx context.Context, runConfig config.Config, flagMap map[string]interface{}, sess *session.Session) error {
	paths := flagparse.ParsePathList(flagMap["watch"].(string))
	if len(paths) == 0 {
		return fmt.Errorf("the -watch flag needs at least one path")
	}

	store, err := openStore(runConfig)
	if err != nil {
		return err
	}

	debounce := time.Duration(runConfig.Watch.DebounceMS) * time.Millisecond
	w := watcher.New(store, sess, debounce)
	if err := w.Watch(ctx, paths); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	plog.Info("Watch stopped", "session", sess.ID())
	return nil
}

// runList prints the backup tree: sites, their month buckets and the task
// and before/after folders inside each bucket.
func runList(runConfig config.Config) error {
	lines, err := collectListing(runConfig.Root)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		fmt.Println("No backups found.")
		return nil
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

// collectListing walks the backup tree and renders one indented line per
// site, month bucket and backup folder. The reserved logs folder is not a
// site and is skipped.
func collectListing(root string) ([]string, error) {
	sites, err := sortedSubdirs(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("could not read backup root %s: %w", root, err)
	}

	var lines []string
	for _, site := range sites {
		if site == archivelayout.LogsDirName {
			continue
		}
		lines = append(lines, site)

		months, err := sortedSubdirs(filepath.Join(root, site))
		if err != nil {
			return nil, fmt.Errorf("could not read site folder %s: %w", site, err)
		}
		for _, month := range months {
			lines = append(lines, "  "+month)

			folders, err := sortedSubdirs(filepath.Join(root, site, month))
			if err != nil {
				return nil, fmt.Errorf("could not read month folder %s: %w", month, err)
			}
			for _, folder := range folders {
				lines = append(lines, "    "+folder)
				if !strings.HasPrefix(folder, archivelayout.TaskDirPrefix) {
					continue
				}
				slots, err := sortedSubdirs(filepath.Join(root, site, month, folder))
				if err != nil {
					return nil, fmt.Errorf("could not read task folder %s: %w", folder, err)
				}
				for _, slot := range slots {
					lines = append(lines, "      "+slot)
				}
			}
		}
	}
	return lines, nil
}

func sortedSubdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// runInit handles the logic for the 'init' action.
func runInit(flagMap map[string]interface{}) error {
	rootPath, ok := flagMap["root"].(string)
	if !ok || rootPath == "" {
		return fmt.Errorf("the -root flag is required for the init operation")
	}

	runConfig := config.MergeWithFlags(config.NewDefault(), flagMap)
	if err := runConfig.Validate(); err != nil {
		return err
	}
	if err := preflight.CheckBackupRoot(runConfig.Root, preflight.MinFreeBytes); err != nil {
		return err
	}
	if err := os.MkdirAll(runConfig.Root, 0o755); err != nil {
		return fmt.Errorf("could not create backup root %s: %w", runConfig.Root, err)
	}
	return config.Generate(runConfig)
}

// run encapsulates the main application logic and returns an error if
// something goes wrong, allowing the main function to handle exit codes.
func run(ctx context.Context) error {
	act, flagMap, err := parseFlagConfig()
	if err != nil {
		return err
	}

	if act == actionShowVersion {
		fmt.Printf("%s version %s\n", buildinfo.Name, buildinfo.Version)
		return nil
	}
	if act == actionNone {
		flag.Usage()
		return fmt.Errorf("no action given: use -backup, -archive, -watch, -list or -init")
	}
	if act == actionInitConfig {
		return runInit(flagMap)
	}

	runConfig, err := loadRunConfig(flagMap)
	if err != nil {
		return err
	}
	runConfig.LogSummary()

	sess := session.New()
	if task, ok := flagMap["task"].(string); ok {
		sess.SetTask(task)
	}

	switch act {
	case actionBackupFile:
		return runBackupFile(runConfig, flagMap, sess)
	case actionBuildArchive:
		return runBuildArchive(ctx, runConfig, flagMap, sess)
	case actionWatch:
		return runWatch(ctx, runConfig, flagMap, sess)
	case actionList:
		return runList(runConfig)
	default:
		return fmt.Errorf("internal error: unknown action %d", act)
	}
}

func main() {
	// Set up a context that is canceled when an interrupt signal is received.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		cancel()
	}()

	err := run(ctx)
	plog.CloseFileSink()
	if err != nil {
		// A hint marks a deliberate skip, not a failure.
		if hints.IsHint(err) {
			plog.Notice("Nothing to do", "reason", err)
			return
		}
		plog.Error(buildinfo.Name+" exited with error", "error", err)
		os.Exit(1)
	}
}
