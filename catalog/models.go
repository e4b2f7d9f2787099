package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// successCode is the envelope code the catalog service uses for OK responses.
const successCode = "00000"

type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// bookInfo is the wire shape of one catalog row.
type bookInfo struct {
	ID                    flexInt  `json:"id"`
	WorkDirection         flexInt  `json:"workDirection"`
	CategoryID            flexInt  `json:"categoryId"`
	CategoryName          string   `json:"categoryName"`
	BookName              string   `json:"bookName"`
	AuthorID              flexInt  `json:"authorId"`
	AuthorName            string   `json:"authorName"`
	BookDesc              string   `json:"bookDesc"`
	Score                 flexInt  `json:"score"`
	BookStatus            flexInt  `json:"bookStatus"`
	VisitCount            flexInt  `json:"visitCount"`
	WordCount             flexInt  `json:"wordCount"`
	CommentCount          flexInt  `json:"commentCount"`
	LastChapterID         flexInt  `json:"lastChapterId"`
	LastChapterName       string   `json:"lastChapterName"`
	LastChapterUpdateTime flexTime `json:"lastChapterUpdateTime"`
	IsVip                 flexInt  `json:"isVip"`
}

// flexInt accepts a JSON number or a quoted number. The catalog serializes
// 64-bit IDs as strings for browser clients.
type flexInt int64

func (n *flexInt) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		*n = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %s", b)
	}
	*n = flexInt(v)
	return nil
}

// flexTime accepts epoch milliseconds, RFC 3339 or "2006-01-02 15:04:05".
type flexTime time.Time

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

func (t *flexTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" || string(b) == `""` {
		*t = flexTime(time.Time{})
		return nil
	}
	if b[0] != '"' {
		var ms int64
		if err := json.Unmarshal(b, &ms); err != nil {
			return fmt.Errorf("invalid timestamp %s", b)
		}
		*t = flexTime(time.UnixMilli(ms).UTC())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for _, layout := range timeLayouts {
		if v, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			*t = flexTime(v)
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}
