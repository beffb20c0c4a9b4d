package store

import (
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/arbor/pkg/chatlog"
)

// DefaultAutosaveFormat shards saved conversations by date and keeps one
// file per conversation.
const DefaultAutosaveFormat = "{{.Year}}/{{.Month}}/{{.Day}}/{{.Time.Format \"150405\"}}-{{.ConversationID}}.json"

// Autosaver saves the tree on every change notification. Register it
// with Chatlog.Subscribe; save failures are logged, never propagated
// into the mutation that triggered them.
type Autosaver struct {
	ConversationID uuid.UUID

	dir       string
	tmpl      *template.Template
	startTime time.Time

	// resolved once, the path only depends on session start time
	path string
}

type AutosaverOption func(*Autosaver)

func WithAutosaveDir(dir string) AutosaverOption {
	return func(a *Autosaver) {
		if dir != "" {
			a.dir = dir
		}
	}
}

func WithConversationID(id uuid.UUID) AutosaverOption {
	return func(a *Autosaver) {
		a.ConversationID = id
	}
}

func NewAutosaver(format string, options ...AutosaverOption) (*Autosaver, error) {
	if format == "" {
		format = DefaultAutosaveFormat
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	ret := &Autosaver{
		ConversationID: uuid.New(),
		dir:            filepath.Join(homeDir, ".arbor", "history"),
		startTime:      time.Now(),
	}
	for _, option := range options {
		option(ret)
	}

	tmpl, err := template.New("autosave").Funcs(sprig.TxtFuncMap()).Parse(format)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse autosave format")
	}
	ret.tmpl = tmpl

	return ret, nil
}

var _ chatlog.ChangeListener = (*Autosaver)(nil)

// Path renders the autosave file path for this session.
func (a *Autosaver) Path() (string, error) {
	if a.path != "" {
		return a.path, nil
	}

	data := map[string]interface{}{
		"Year":           a.startTime.Format("2006"),
		"Month":          a.startTime.Format("01"),
		"Day":            a.startTime.Format("02"),
		"Time":           a.startTime,
		"ConversationID": a.ConversationID.String(),
	}

	var sb strings.Builder
	if err := a.tmpl.Execute(&sb, data); err != nil {
		return "", errors.Wrap(err, "failed to render autosave path")
	}

	a.path = filepath.Join(a.dir, sb.String())
	return a.path, nil
}

func (a *Autosaver) ConversationChanged(cl *chatlog.Chatlog) {
	path, err := a.Path()
	if err != nil {
		log.Warn().Err(err).Msg("autosave skipped")
		return
	}

	if err := NewFileStore(path).Save(cl); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("autosave failed")
	}
}
