package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/pkg/errors"

	"github.com/go-go-golems/arbor/pkg/chatlog"
)

// MarkdownRenderer styles message content as terminal markdown using
// glamour. The artifact it produces is the final string to print.
type MarkdownRenderer struct {
	renderer *glamour.TermRenderer
}

func NewMarkdownRenderer(style string, wordWrap int) (*MarkdownRenderer, error) {
	options := []glamour.TermRendererOption{
		glamour.WithWordWrap(wordWrap),
	}
	if style == "" {
		options = append(options, glamour.WithAutoStyle())
	} else {
		options = append(options, glamour.WithStandardStyle(style))
	}

	renderer, err := glamour.NewTermRenderer(options...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create markdown renderer")
	}
	return &MarkdownRenderer{renderer: renderer}, nil
}

var _ Renderer = (*MarkdownRenderer)(nil)

func (m *MarkdownRenderer) Render(msg *chatlog.Message, position int, activeIndex int, setSize int) (interface{}, error) {
	styled, err := m.renderer.Render(msg.Value.Text())
	if err != nil {
		return nil, errors.Wrap(err, "failed to render markdown")
	}

	var sb strings.Builder
	sb.WriteString(header(msg, activeIndex, setSize))
	sb.WriteString("\n")
	sb.WriteString(styled)
	return sb.String(), nil
}

// PlainRenderer produces unstyled one-block strings, used when stdout is
// not a terminal.
type PlainRenderer struct{}

var _ Renderer = PlainRenderer{}

func (PlainRenderer) Render(msg *chatlog.Message, position int, activeIndex int, setSize int) (interface{}, error) {
	return header(msg, activeIndex, setSize) + " " + msg.Value.Text(), nil
}

func header(msg *chatlog.Message, activeIndex int, setSize int) string {
	role := "?"
	if msg.Value != nil {
		role = string(msg.Value.Role)
	}
	if setSize > 1 {
		return fmt.Sprintf("[%s %d/%d]", role, activeIndex+1, setSize)
	}
	return fmt.Sprintf("[%s]", role)
}
