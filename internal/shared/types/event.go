package types

// Event type names delivered on the stream.
const (
	EventApps          = "apps"
	EventChooseProfile = "choose_app_profile"
	EventAppLog        = "app-log"
)

// LogEvent is one line of task or process output for an app. Update means
// "replace the previously rendered line" (carriage-return progress
// semantics); terminal events carry Finished plus the Error verdict.
type LogEvent struct {
	AppName  string `json:"app_name"`
	Message  string `json:"message"`
	Update   bool   `json:"update"`
	Finished bool   `json:"finished"`
	Error    bool   `json:"error"`
}
