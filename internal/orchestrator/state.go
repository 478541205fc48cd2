package orchestrator

// State is the orchestrator's finite-state-machine position. Outside a
// pipeline the target sits in Scheduled; every other reachable state names
// the pipeline stage currently executing.
type State int

const (
	// Scheduled means no pipeline is in flight and the timer is armed.
	Scheduled State = iota
	// Queued is reserved for future queuing behavior and is never entered.
	Queued
	// Checking is reserved for future queuing behavior and is never entered.
	Checking
	// BackingUp means the source dump is running.
	BackingUp
	// Compressing means the dump is being compressed.
	Compressing
	// UploadingToStorage means the compressed dump is being uploaded.
	UploadingToStorage
	// DownloadingFromStorage means a backup object is being fetched.
	DownloadingFromStorage
	// Decompressing means a fetched backup is being decompressed.
	Decompressing
	// Restoring means the source is loading the restored dump.
	Restoring
)

var stateNames = map[State]string{
	Scheduled:              "scheduled",
	Queued:                 "queued",
	Checking:               "checking",
	BackingUp:              "backing-up",
	Compressing:            "compressing",
	UploadingToStorage:     "uploading",
	DownloadingFromStorage: "downloading",
	Decompressing:          "decompressing",
	Restoring:              "restoring",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}
