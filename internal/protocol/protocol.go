// Package protocol defines the newline-delimited JSON wire shapes exchanged
// between Nexus clients and the server (spec.md §6). Every frame is a single
// JSON object carrying a "type" discriminator; Envelope is the generic
// container handlers decode into before dispatching on Type.
package protocol

// Envelope is the outer shape of every frame. Handlers decode into it first
// to read Type, then re-decode (or read sibling fields directly) for the
// specific request.
type Envelope struct {
	Type string `json:"type"`
}

// Request/response type discriminators (spec.md §6).
const (
	TypeHandshake = "handshake"
	TypeLogin     = "login"

	TypeChatSend         = "chat_send"
	TypeChatJoin         = "chat_join"
	TypeChatLeave        = "chat_leave"
	TypeChatTopicUpdate  = "chat_topic_update"
	TypeChatUserList     = "chat_user_list"
	TypeChatChannelList  = "chat_channel_list"
	TypeChatSetSecret    = "chat_set_secret"

	TypeUserList      = "user_list"
	TypeUserInfo      = "user_info"
	TypeUserBroadcast = "user_broadcast"
	TypeUserCreate    = "user_create"
	TypeUserEdit      = "user_edit"
	TypeUserUpdate    = "user_update"
	TypeUserDelete    = "user_delete"
	TypeUserKick      = "user_kick"
	TypeUserMessage   = "user_message"
	TypeUserAway      = "user_away"

	TypeVoiceJoin   = "voice_join"
	TypeVoiceLeave  = "voice_leave"
	TypeVoiceMute   = "voice_mute"
	TypeVoiceDeafen = "voice_deafen"

	TypeFileList      = "file_list"
	TypeFileCreateDir = "file_create_dir"
	TypeFileDelete    = "file_delete"
	TypeFileRename    = "file_rename"
	TypeFileInfo      = "file_info"
	TypeFileSearch    = "file_search"
	TypeFileTransferOpen  = "file_transfer_open"
	TypeFileTransferClose = "file_transfer_close"

	TypeServerInfoUpdate  = "server_info_update"
	TypeBanAdd            = "ban_add"
	TypeBanRemove         = "ban_remove"
	TypeBanList           = "ban_list"
	TypeTrustAdd          = "trust_add"
	TypeTrustRemove       = "trust_remove"
	TypeTrustList         = "trust_list"
	TypeConnectionMonitor = "connection_monitor"

	TypeNewsList   = "news_list"
	TypeNewsShow   = "news_show"
	TypeNewsCreate = "news_create"
	TypeNewsEdit   = "news_edit"
	TypeNewsUpdate = "news_update"
	TypeNewsDelete = "news_delete"

	// Broadcast (unsolicited) shapes.
	TypeChatMessage        = "chat_message"
	TypeChatUserJoined     = "chat_user_joined"
	TypeChatUserLeft       = "chat_user_left"
	TypeChatTopicUpdated   = "chat_topic_updated"
	TypeServerBroadcast    = "server_broadcast"
	TypeUserConnected      = "user_connected"
	TypeUserDisconnected   = "user_disconnected"
	TypeUserUpdated        = "user_updated"
	TypePermissionsUpdated = "permissions_updated"
	TypeServerInfoUpdated  = "server_info_updated"
	TypeNewsUpdated        = "news_updated"
	TypeVoiceUserJoined    = "voice_user_joined"
	TypeVoiceUserLeft      = "voice_user_left"
	TypeVoiceSpeaking      = "voice_speaking"
	TypeVoiceMuteChanged   = "voice_mute_changed"

	TypeError = "error"
)

// Response is the common envelope for every request's reply.
type Response struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// HandshakeRequest is the unauthenticated first frame a client sends.
type HandshakeRequest struct {
	Type           string   `json:"type"`
	ClientVersion  string   `json:"client_version"`
	FingerprintAck string   `json:"fingerprint_ack,omitempty"`
	Features       []string `json:"features,omitempty"`
}

// HandshakeResponse carries the server's protocol/version identity.
type HandshakeResponse struct {
	Response
	ServerVersion string `json:"server_version"`
	Fingerprint   string `json:"fingerprint"`
}

// LoginRequest authenticates a connection and, for shared accounts, claims a nickname.
type LoginRequest struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Password string `json:"password"`
	Nickname string `json:"nickname,omitempty"`
	Locale   string `json:"locale,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// LoginResponse is returned on successful authentication.
type LoginResponse struct {
	Response
	SessionID   uint32       `json:"session_id"`
	Nickname    string       `json:"nickname"`
	IsAdmin     bool         `json:"is_admin"`
	Permissions []string     `json:"permissions"`
	ServerInfo  ServerInfo   `json:"server_info"`
	ChatInfo    ChatInfo     `json:"chat_info"`
	Locale      string       `json:"locale"`
}

// ServerInfo is the public server identity sent at login.
type ServerInfo struct {
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
	MOTD        string `json:"motd,omitempty"`
}

// ChatInfo summarizes channel/voice state a client should prime its UI with.
type ChatInfo struct {
	Channels []ChannelSummary `json:"channels"`
}

// ChannelSummary is a channel as listed to a given session (spec.md §4.4 list()).
type ChannelSummary struct {
	Name          string `json:"name"`
	Topic         string `json:"topic,omitempty"`
	Secret        bool   `json:"secret"`
	Persistent    bool   `json:"persistent"`
	MemberCount   int    `json:"member_count"`
	AlreadyMember bool   `json:"already_member,omitempty"`
}

// UserSummary is a session as presented in user lists / join-leave broadcasts.
type UserSummary struct {
	SessionID uint32 `json:"session_id,omitempty"`
	Username  string `json:"username"`
	Nickname  string `json:"nickname"`
	IsAdmin   bool   `json:"is_admin"`
	Away      bool   `json:"away"`
	Locale    string `json:"locale,omitempty"`
	// Online is false for an account-only entry returned by UserList{all: true}
	// that has no live session (no SessionID, no nickname, no locale/away state).
	Online bool `json:"online"`
}

// ChatMessage is the broadcast shape for a relayed chat line.
type ChatMessage struct {
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	Nickname  string `json:"nickname"`
	Body      string `json:"body"`
	Timestamp int64  `json:"ts"`
}

// ChatUserJoined/Left are the nickname-deduplicated membership broadcasts (spec.md §4.4).
type ChatUserJoined struct {
	Type     string `json:"type"`
	Channel  string `json:"channel"`
	Nickname string `json:"nickname"`
}

type ChatUserLeft struct {
	Type     string `json:"type"`
	Channel  string `json:"channel"`
	Nickname string `json:"nickname"`
}

// ErrorFrame is sent for any handler failure (spec.md §7).
type ErrorFrame struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// --- Chat requests (§6) ---

type ChatSendRequest struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Body    string `json:"body"`
}

type ChatJoinRequest struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type ChatJoinResponse struct {
	Response
	Channel       string   `json:"channel"`
	Topic         string   `json:"topic,omitempty"`
	Secret        bool     `json:"secret"`
	Members       []string `json:"members"`
	AlreadyMember bool     `json:"already_member"`
}

type ChatLeaveRequest struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type ChatTopicUpdateRequest struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Topic   string `json:"topic"`
}

type ChatTopicUpdated struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Topic   string `json:"topic"`
	Setter  string `json:"setter"`
}

type ChatUserListRequest struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type ChatUserListResponse struct {
	Response
	Channel string   `json:"channel"`
	Users   []string `json:"users"`
}

type ChatChannelListRequest struct {
	Type string `json:"type"`
}

type ChatChannelListResponse struct {
	Response
	Channels []ChannelSummary `json:"channels"`
}

type ChatSetSecretRequest struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Secret  bool   `json:"secret"`
}

// --- User requests (§6) ---

type UserListRequest struct {
	Type string `json:"type"`
	// All requests every account in the store, not just connected sessions;
	// gated on a compound permission (spec.md-style UserList/UserEdit/UserDelete).
	All bool `json:"all,omitempty"`
}

type UserListResponse struct {
	Response
	Users []UserSummary `json:"users"`
}

type UserInfoRequest struct {
	Type     string `json:"type"`
	Nickname string `json:"nickname"`
}

type UserInfoResponse struct {
	Response
	User UserSummary `json:"user"`
}

type UserBroadcastRequest struct {
	Type string `json:"type"`
	Body string `json:"body"`
}

type UserCreateRequest struct {
	Type        string   `json:"type"`
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	Admin       bool     `json:"admin"`
	Shared      bool     `json:"shared"`
	Permissions []string `json:"permissions"`
}

type UserEditRequest struct {
	Type        string   `json:"type"`
	Username    string   `json:"username"`
	Permissions []string `json:"permissions"`
	Enabled     *bool    `json:"enabled,omitempty"`
}

type UserUpdateRequest struct {
	Type        string `json:"type"`
	Username    string `json:"username"`
	NewUsername string `json:"new_username,omitempty"`
}

type UserDeleteRequest struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type UserKickRequest struct {
	Type     string `json:"type"`
	Nickname string `json:"nickname"`
	Reason   string `json:"reason,omitempty"`
}

type UserMessageRequest struct {
	Type     string `json:"type"`
	Nickname string `json:"nickname"`
	Body     string `json:"body"`
}

type UserAwayRequest struct {
	Type string `json:"type"`
	Away bool   `json:"away"`
}

type PermissionsUpdated struct {
	Type        string   `json:"type"`
	Username    string   `json:"username"`
	Permissions []string `json:"permissions"`
}

// --- Voice requests (§6) ---

type VoiceJoinRequest struct {
	Type   string   `json:"type"`
	Target []string `json:"target"`
}

type VoiceJoinResponse struct {
	Response
	Token        string   `json:"token"`
	TargetKey    string   `json:"target_key"`
	Participants []string `json:"participants"`
}

type VoiceLeaveRequest struct {
	Type string `json:"type"`
}

type VoiceMuteRequest struct {
	Type  string `json:"type"`
	Muted bool   `json:"muted"`
}

type VoiceDeafenRequest struct {
	Type    string `json:"type"`
	Deafened bool  `json:"deafened"`
}

type VoiceUserJoined struct {
	Type      string `json:"type"`
	TargetKey string `json:"target_key"`
	Nickname  string `json:"nickname"`
}

type VoiceUserLeft struct {
	Type      string `json:"type"`
	TargetKey string `json:"target_key"`
	Nickname  string `json:"nickname"`
}

// --- File requests (§6) ---

type FileListRequest struct {
	Type string `json:"type"`
	Path string `json:"path"`
	Root bool   `json:"root,omitempty"`
}

type FileEntry struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt int64  `json:"modified_at"`
	IsDir      bool   `json:"is_dir"`
}

type FileListResponse struct {
	Response
	Entries []FileEntry `json:"entries"`
}

type FileCreateDirRequest struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

type FileDeleteRequest struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

type FileRenameRequest struct {
	Type    string `json:"type"`
	Path    string `json:"path"`
	NewName string `json:"new_name"`
}

type FileInfoRequest struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

type FileInfoResponse struct {
	Response
	Entry FileEntry `json:"entry"`
}

type FileSearchRequest struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

type FileSearchResponse struct {
	Response
	Entries []FileEntry `json:"entries"`
}

// FileTransferOpenRequest is sent on the main control connection to register
// a transfer and obtain the token the transfer-port connection must present
// (spec.md §6: "file-transfer open/close (on transfer port)").
type FileTransferOpenRequest struct {
	Type      string `json:"type"`
	Path      string `json:"path"`
	Direction string `json:"direction"` // "upload" or "download"
}

type FileTransferOpenResponse struct {
	Response
	Token        string `json:"token"`
	TransferID   uint64 `json:"transfer_id"`
	TotalSize    int64  `json:"total_size,omitempty"`
}

// FileTransferCloseRequest ends a transfer explicitly (as opposed to the
// transfer port connection simply closing).
type FileTransferCloseRequest struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// TransferHello is the first line a client sends on the transfer port: the
// token it obtained from FileTransferOpenResponse.
type TransferHello struct {
	Token string `json:"token"`
}

// --- Admin requests (§6) ---

type ServerInfoUpdateRequest struct {
	Type string `json:"type"`
	Name string `json:"name"`
	MOTD string `json:"motd,omitempty"`
}

type BanAddRequest struct {
	Type      string `json:"type"`
	CIDR      string `json:"cidr"`
	ExpiresAt *int64 `json:"expires_at,omitempty"`
	Nickname  string `json:"nickname,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type BanRemoveRequest struct {
	Type string `json:"type"`
	CIDR string `json:"cidr"`
}

type BanListRequest struct {
	Type string `json:"type"`
}

type RuleSummary struct {
	CIDR      string `json:"cidr"`
	ExpiresAt *int64 `json:"expires_at,omitempty"`
	Nickname  string `json:"nickname,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type BanListResponse struct {
	Response
	Rules []RuleSummary `json:"rules"`
}

type TrustAddRequest struct {
	Type      string `json:"type"`
	CIDR      string `json:"cidr"`
	ExpiresAt *int64 `json:"expires_at,omitempty"`
	Nickname  string `json:"nickname,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type TrustRemoveRequest struct {
	Type string `json:"type"`
	CIDR string `json:"cidr"`
}

type TrustListRequest struct {
	Type string `json:"type"`
}

type TrustListResponse struct {
	Response
	Rules []RuleSummary `json:"rules"`
}

type ConnectionMonitorRequest struct {
	Type string `json:"type"`
}

type TransferSummary struct {
	ID               uint64 `json:"id"`
	PeerAddr         string `json:"peer_addr"`
	Nickname         string `json:"nickname"`
	Direction        string `json:"direction"`
	Path             string `json:"path"`
	TotalSize        int64  `json:"total_size"`
	BytesTransferred int64  `json:"bytes_transferred"`
}

type ConnectionMonitorResponse struct {
	Response
	Sessions  []UserSummary     `json:"sessions"`
	Transfers []TransferSummary `json:"transfers"`
}

// --- News requests (§6) ---

type NewsListRequest struct {
	Type string `json:"type"`
}

type NewsItemSummary struct {
	ID        int64  `json:"id"`
	Body      string `json:"body,omitempty"`
	Image     string `json:"image,omitempty"`
	Author    string `json:"author"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

type NewsListResponse struct {
	Response
	Items []NewsItemSummary `json:"items"`
}

type NewsShowRequest struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

type NewsShowResponse struct {
	Response
	Item NewsItemSummary `json:"item"`
}

type NewsCreateRequest struct {
	Type  string `json:"type"`
	Body  string `json:"body,omitempty"`
	Image string `json:"image,omitempty"`
}

type NewsEditRequest struct {
	Type  string `json:"type"`
	ID    int64  `json:"id"`
	Body  string `json:"body,omitempty"`
	Image string `json:"image,omitempty"`
}

type NewsDeleteRequest struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

type NewsUpdated struct {
	Type string          `json:"type"`
	Item NewsItemSummary `json:"item"`
}
