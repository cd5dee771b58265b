package task

// Kind tags what a held task slot is doing. The tag rides along in Busy
// rejections and metrics labels.
type Kind string

const (
	KindInstalling      Kind = "installing"
	KindUpdating        Kind = "updating"
	KindDowngrading     Kind = "downgrading"
	KindSettingVersion  Kind = "setting_version"
	KindChangingProfile Kind = "changing_profile"
	KindStarting        Kind = "starting"
	KindStopping        Kind = "stopping"
	KindDeleting        Kind = "deleting"
)

func (k Kind) String() string { return string(k) }
