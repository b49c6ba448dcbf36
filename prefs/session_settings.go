package prefs

import (
	"context"
	"fmt"
)

const ServerSettingsCategoryName = "ServerSettings"
const ClientSettingsCategoryName = "ClientSettings"

type ServerPrivacy int32

const (
	ServerPrivacyPublic ServerPrivacy = iota
	ServerPrivacyPrivate
	ServerPrivacyFriendsOnly
	ServerPrivacyLocked
)

var ServerPrivacyValues = []ServerPrivacy{
	ServerPrivacyPublic,
	ServerPrivacyPrivate,
	ServerPrivacyFriendsOnly,
	ServerPrivacyLocked,
}

func (self ServerPrivacy) String() string {
	switch self {
	case ServerPrivacyPublic:
		return "public"
	case ServerPrivacyPrivate:
		return "private"
	case ServerPrivacyFriendsOnly:
		return "friends_only"
	case ServerPrivacyLocked:
		return "locked"
	default:
		return fmt.Sprintf("%d", int32(self))
	}
}

type TimeScaleMode int32

const (
	TimeScaleModeDisabled TimeScaleMode = iota
	TimeScaleModeLowGravity
	TimeScaleModeHostOnly
	TimeScaleModeEveryone
)

var TimeScaleModeValues = []TimeScaleMode{
	TimeScaleModeDisabled,
	TimeScaleModeLowGravity,
	TimeScaleModeHostOnly,
	TimeScaleModeEveryone,
}

func (self TimeScaleMode) String() string {
	switch self {
	case TimeScaleModeDisabled:
		return "disabled"
	case TimeScaleModeLowGravity:
		return "low_gravity"
	case TimeScaleModeHostOnly:
		return "host_only"
	case TimeScaleModeEveryone:
		return "everyone"
	default:
		return fmt.Sprintf("%d", int32(self))
	}
}

type PermissionLevel int32

const (
	PermissionLevelDefault PermissionLevel = iota
	PermissionLevelOperator
	PermissionLevelOwner
)

var PermissionLevelValues = []PermissionLevel{
	PermissionLevelDefault,
	PermissionLevelOperator,
	PermissionLevelOwner,
}

func (self PermissionLevel) String() string {
	switch self {
	case PermissionLevelDefault:
		return "default"
	case PermissionLevelOperator:
		return "operator"
	case PermissionLevelOwner:
		return "owner"
	default:
		return fmt.Sprintf("%d", int32(self))
	}
}

type NicknameVisibility int32

const (
	NicknameVisibilityShow NicknameVisibility = iota
	NicknameVisibilityShowWithPrefix
	NicknameVisibilityHide
)

var NicknameVisibilityValues = []NicknameVisibility{
	NicknameVisibilityShow,
	NicknameVisibilityShowWithPrefix,
	NicknameVisibilityHide,
}

func (self NicknameVisibility) String() string {
	switch self {
	case NicknameVisibilityShow:
		return "show"
	case NicknameVisibilityShowWithPrefix:
		return "show_with_prefix"
	case NicknameVisibilityHide:
		return "hide"
	default:
		return fmt.Sprintf("%d", int32(self))
	}
}

// settings the host decides for the whole session
type ServerSettings struct {
	Category *Category

	NametagsEnabled  *Preference[bool]
	VoicechatEnabled *Preference[bool]
	Privacy          *Preference[ServerPrivacy]
	TimeScaleMode    *Preference[TimeScaleMode]

	ServerMortality *Preference[bool]

	DevToolsAllowed *Preference[PermissionLevel]
	KickingAllowed  *Preference[PermissionLevel]
	BanningAllowed  *Preference[PermissionLevel]
	Teleportation   *Preference[PermissionLevel]
}

func NewServerSettings() *ServerSettings {
	category := NewCategory(ServerSettingsCategoryName)
	return &ServerSettings{
		Category: category,

		NametagsEnabled:  NewBoolPref(category, "Server Nametags Enabled", true, ServerUpdate),
		VoicechatEnabled: NewBoolPref(category, "Server Voicechat Enabled", true, ServerUpdate),
		// each side keeps its own listing preference
		Privacy:       NewEnumPref(category, "Server Privacy", ServerPrivacyPublic, LocalUpdate, ServerPrivacyValues...),
		TimeScaleMode: NewEnumPref(category, "Time Scale Mode", TimeScaleModeLowGravity, ServerUpdate, TimeScaleModeValues...),

		ServerMortality: NewBoolPref(category, "Server Mortality", true, ServerUpdate),

		DevToolsAllowed: NewEnumPref(category, "Dev Tools Allowed", PermissionLevelDefault, ServerUpdate, PermissionLevelValues...),
		KickingAllowed:  NewEnumPref(category, "Kicking Allowed", PermissionLevelOperator, ServerUpdate, PermissionLevelValues...),
		BanningAllowed:  NewEnumPref(category, "Banning Allowed", PermissionLevelOperator, ServerUpdate, PermissionLevelValues...),
		Teleportation:   NewEnumPref(category, "Teleportation", PermissionLevelOperator, ServerUpdate, PermissionLevelValues...),
	}
}

// settings each participant decides for itself
type ClientSettings struct {
	Category *Category

	NametagsEnabled *Preference[bool]
	NametagColor    *Preference[Color]

	Nickname           *Preference[string]
	NicknameVisibility *Preference[NicknameVisibility]

	Muted        *Preference[bool]
	Deafened     *Preference[bool]
	GlobalVolume *Preference[float64]
}

func NewClientSettings() *ClientSettings {
	category := NewCategory(ClientSettingsCategoryName)
	return &ClientSettings{
		Category: category,

		NametagsEnabled: NewBoolPref(category, "Client Nametags Enabled", true, LocalUpdate),
		NametagColor:    NewColorPref(category, "Nametag Color", ColorWhite, ClientUpdate),

		Nickname:           NewStringPref(category, "Nickname", "", Ignore),
		NicknameVisibility: NewEnumPref(category, "Nickname Visibility", NicknameVisibilityShowWithPrefix, LocalUpdate, NicknameVisibilityValues...),

		Muted:        NewBoolPref(category, "Muted", false, Ignore),
		Deafened:     NewBoolPref(category, "Deafened", false, Ignore),
		GlobalVolume: NewFloatPref(category, "Global Mic Volume", 1, Ignore),
	}
}

// the settings module of one session. Owned by the session context and passed to dependents.
type SessionSettings struct {
	Server       *ServerSettings
	Client       *ClientSettings
	Participants *ParticipantSettings
}

func NewSessionSettings() *SessionSettings {
	client := NewClientSettings()
	return &SessionSettings{
		Server:       NewServerSettings(),
		Client:       client,
		Participants: NewParticipantSettings(client.Category),
	}
}

func (self *SessionSettings) Categories() []*Category {
	return []*Category{
		self.Server.Category,
		self.Client.Category,
	}
}

func (self *SessionSettings) NewCoordinator(ctx context.Context, role Role, transport Transport) *SettingsCoordinator {
	return NewSettingsCoordinatorWithDefaults(
		ctx,
		role,
		NewReplicationChannel(transport),
		self.Server.Category,
		self.Client.Category,
		self.Participants,
	)
}

// nametags show when the session allows them and we have not turned them off
func (self *SessionSettings) NametagsEnabled() bool {
	return self.Server.NametagsEnabled.Effective() && self.Client.NametagsEnabled.Effective()
}

func (self *SessionSettings) IsMortal() bool {
	return self.Server.ServerMortality.Effective()
}

func (self *SessionSettings) TimeScaleMode() TimeScaleMode {
	return self.Server.TimeScaleMode.Effective()
}

func (self *SessionSettings) NametagColor(smallId SmallId) Color {
	return self.Client.NametagColor.ForParticipant(self.Participants, smallId)
}

// drops everything received from the session, e.g. on disconnect
func (self *SessionSettings) LeaveSession() {
	for _, category := range self.Categories() {
		category.ClearReceived()
		category.BindRole(RoleUnbound)
	}
	self.Participants.Clear()
}
