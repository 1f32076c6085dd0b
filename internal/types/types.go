package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type ChatType string

const (
	ChatTypeServer ChatType = "server"
	ChatTypeGlobal ChatType = "global"
)

func (c ChatType) Valid() bool {
	return c == ChatTypeServer || c == ChatTypeGlobal
}

type User struct {
	Id          int       `json:"userId"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
}

type Message struct {
	Id        string     `json:"messageId"`
	ChatType  ChatType   `json:"chatType"`
	JobId     string     `json:"jobId,omitempty"`
	PlaceId   string     `json:"placeId,omitempty"`
	UserId    int        `json:"userId"`
	Username  string     `json:"username"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"createdAt"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
}

// RoomId returns the fan-out group the message belongs to.
func (m Message) RoomId() string {
	if m.ChatType == ChatTypeGlobal {
		return GlobalRoomId(m.PlaceId)
	}
	return ServerRoomId(m.JobId)
}

const maxRoomIdLen = 100

var roomIdPattern = regexp.MustCompile(`^(?i:server:[0-9a-f-]{1,86}|global:[0-9]{1,20})$`)

// ValidRoomId reports whether s matches the room id grammar,
// either server:<hex/dash job id> or global:<numeric place id>.
func ValidRoomId(s string) bool {
	return len(s) <= maxRoomIdLen && roomIdPattern.MatchString(s)
}

func ServerRoomId(jobId string) string {
	return "server:" + strings.ToLower(jobId)
}

func GlobalRoomId(placeId string) string {
	return "global:" + placeId
}

// RoomIdFor renders the room id for a chat type and its discriminator.
func RoomIdFor(chatType ChatType, jobId, placeId string) (string, error) {
	switch chatType {
	case ChatTypeServer:
		if jobId == "" {
			return "", fmt.Errorf("jobId required for server chat")
		}
		return ServerRoomId(jobId), nil
	case ChatTypeGlobal:
		if placeId == "" {
			return "", fmt.Errorf("placeId required for global chat")
		}
		return GlobalRoomId(placeId), nil
	default:
		return "", fmt.Errorf("unknown chat type %q", chatType)
	}
}
