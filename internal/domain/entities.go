package domain

import "time"

// Account описывает отслеживаемый удалённый аккаунт.
type Account struct {
	ID              int64
	ServerAccountID string
	Handle          string
	DisplayName     string
	URL             string
	AvatarURL       string
	Bot             bool
	CreatedAt       *time.Time
	// LastSeenAt — когда аккаунт последний раз подтвердился в списке подписок.
	LastSeenAt time.Time
	// LastFetchAt — когда последний раз завершилась синхронизация постов.
	LastFetchAt *time.Time
}

// Label возвращает отображаемое имя или handle, если имени нет.
func (a Account) Label() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Handle
}

// Post представляет оригинальный пост аккаунта. Бусты не сохраняются.
type Post struct {
	ID            int64
	RemoteID      string
	AccountHandle string
	CreatedAt     time.Time
	URL           string
	ContentHTML   string
	ContentText   string
	Visibility    string
	IsBoost       bool
	IsReply       bool
	InReplyToID   string
	FetchedAt     time.Time
}

// IngestRun — запись журнала о выполнении пайплайна.
type IngestRun struct {
	ID          int64
	RunID       string
	StartedAt   time.Time
	CompletedAt time.Time
	SinceHours  int
	Notes       string
}

// PersonDocument — каноничный текстовый снимок аккаунта, по которому считается отпечаток.
type PersonDocument struct {
	ID            int64
	AccountHandle string
	Fingerprint   string
	Text          string
	GeneratedAt   time.Time
}

// Summary — сгенерированная сводка по аккаунту.
type Summary struct {
	ID            int64
	AccountHandle string
	Fingerprint   string
	Headline      string
	Blurb         string
	Tags          []string
	Engine        string
	Model         string
	PromptVersion string
	CreatedAt     time.Time
}

// Generated — результат генерации сводки.
type Generated struct {
	Headline string   `json:"headline"`
	Blurb    string   `json:"blurb"`
	Tags     []string `json:"tags"`
}

// RemoteIdentity — владелец токена на удалённой платформе.
type RemoteIdentity struct {
	ID     string
	Handle string
}

// RemoteAccount — запись аккаунта из списка подписок.
type RemoteAccount struct {
	ID          string
	Handle      string
	DisplayName string
	URL         string
	AvatarURL   string
	Bot         bool
	CreatedAt   *time.Time
}

// RemotePost — пост в том виде, в котором его отдаёт платформа.
type RemotePost struct {
	ID          string
	CreatedAt   time.Time
	ContentHTML string
	URL         string
	Visibility  string
	InReplyToID string
	IsBoost     bool
}

// SummaryState — вычисляемое состояние сводки. В базе не хранится.
type SummaryState string

const (
	// SummaryAbsent — сводки нет.
	SummaryAbsent SummaryState = "absent"
	// SummaryFresh — отпечаток сводки совпадает с текущим документом.
	SummaryFresh SummaryState = "fresh"
	// SummaryStale — контент изменился после генерации.
	SummaryStale SummaryState = "stale"
)

// ActiveWindow — аккаунт считается активным, если подтверждался в подписках за это время.
const ActiveWindow = 24 * time.Hour
