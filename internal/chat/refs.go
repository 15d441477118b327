package chat

// UserID is a typed reference to a directory record.
type UserID string

// ConversationID is a typed reference to a conversation record.
type ConversationID string

// MessageID is a typed reference to a message record.
type MessageID string

// Table names a logical collection. Writes and dependencies are always
// scoped to a table; keys narrow the scope within it.
type Table string

const (
	TableUsers         Table = "users"
	TableConversations Table = "conversations"
	TableMessages      Table = "messages"
	TableTyping        Table = "typing_indicators"
)

// Write records that a committed mutation touched (Table, Key). A mutation
// publishes one Write per distinct key it changed; an empty Key means the
// whole table was affected.
type Write struct {
	Table Table  `json:"table"`
	Key   string `json:"key,omitempty"`
}

// Dep declares that a query's result depends on (Table, Key). An empty Key
// subscribes to every write on the table. Deps are declared statically per
// query descriptor so the dependency graph stays auditable.
type Dep struct {
	Table Table  `json:"table"`
	Key   string `json:"key,omitempty"`
}

// Matches reports whether a write invalidates this dependency. Matching is
// deliberately conservative: an unkeyed side always matches, so the engine
// may over-trigger but never under-triggers.
func (d Dep) Matches(w Write) bool {
	if d.Table != w.Table {
		return false
	}
	return d.Key == "" || w.Key == "" || d.Key == w.Key
}

// Touches reports whether any write in the set invalidates any dependency
// in the set.
func Touches(deps []Dep, writes []Write) bool {
	for _, d := range deps {
		for _, w := range writes {
			if d.Matches(w) {
				return true
			}
		}
	}
	return false
}

// Key constructors. Queries and mutations must agree on this vocabulary;
// keep every key format here and nowhere else.

// UserKey scopes a write or dep to a single user record.
func UserKey(id UserID) string { return "id:" + string(id) }

// UserExternalKey scopes a write or dep to the user with the given
// identity-provider key.
func UserExternalKey(externalID string) string { return "ext:" + externalID }

// ConversationKey scopes a write or dep to a single conversation record.
func ConversationKey(id ConversationID) string { return "id:" + string(id) }

// ParticipantKey scopes a conversations-table write or dep to every
// conversation the user participates in ("conversations where
// participantIds contains u").
func ParticipantKey(u UserID) string { return "member:" + string(u) }

// ConversationScope scopes a messages- or typing-table write or dep to a
// single conversation.
func ConversationScope(id ConversationID) string { return "conv:" + string(id) }
