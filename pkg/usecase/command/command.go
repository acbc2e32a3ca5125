// Package command implements the text commands shared by the shell and chat transports
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/emoshelf/pkg/archive"
	"github.com/m-mizutani/emoshelf/pkg/model"
)

// Name is a command verb
type Name string

const (
	NameAdd   Name = "add"
	NameList  Name = "list"
	NameSend  Name = "send"
	NameStats Name = "stats"
	NameHelp  Name = "help"
)

// ChatPrefix is prepended to verbs in chat transports, e.g. /emoadd
const ChatPrefix = "emo"

// Command is a parsed command line
type Command struct {
	Name Name
	Args []string
}

// Arg returns the i-th argument or an empty string
func (c *Command) Arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

// Parse reads "/emoadd happy", "/emoadd@bot happy", "emoadd" or a bare "add". It
// returns nil when text is not a command.
func Parse(text string) *Command {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}

	verb := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if at := strings.IndexByte(verb, '@'); at >= 0 {
		verb = verb[:at]
	}
	verb = strings.TrimPrefix(verb, ChatPrefix)

	switch Name(verb) {
	case NameAdd, NameList, NameSend, NameStats, NameHelp:
		return &Command{Name: Name(verb), Args: fields[1:]}
	default:
		return nil
	}
}

// Media is the most recent image seen in the conversation
type Media struct {
	Locator string
	Data    []byte
}

// Session carries the conversation state a command runs in
type Session struct {
	Source string
	// LastImage is nil when no image was seen yet
	LastImage *Media
}

// Reply is text plus an optional stored image to send along
type Reply struct {
	Text  string
	Media *model.MediaReference
}

// Library is the read side of the archive
type Library interface {
	Listing(category model.Category) ([]*model.MediaReference, error)
	Sample(category model.Category) (*model.MediaReference, error)
	Stats() []archive.CategoryStat
}

// Ingester admits new media
type Ingester interface {
	Ingest(ctx context.Context, req *model.IngestionRequest) *model.IngestionResult
}

type UseCase struct {
	taxonomy *model.Taxonomy
	library  Library
	ingester Ingester
	prefix   string
}

type Option func(*UseCase)

// WithChatPrefix renders help with "/emo" verbs instead of bare ones
func WithChatPrefix() Option {
	return func(uc *UseCase) {
		uc.prefix = "/" + ChatPrefix
	}
}

func New(taxonomy *model.Taxonomy, library Library, ingester Ingester, opts ...Option) *UseCase {
	uc := &UseCase{
		taxonomy: taxonomy,
		library:  library,
		ingester: ingester,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Execute runs cmd. Failures are reported in the reply text.
func (u *UseCase) Execute(ctx context.Context, cmd *Command, session *Session) *Reply {
	if session == nil {
		session = &Session{}
	}

	switch cmd.Name {
	case NameAdd:
		return u.add(ctx, cmd, session)
	case NameList:
		return u.list(cmd)
	case NameSend:
		return u.send(cmd)
	case NameStats:
		return u.stats()
	default:
		return &Reply{Text: u.Help()}
	}
}

func (u *UseCase) add(ctx context.Context, cmd *Command, session *Session) *Reply {
	if session.LastImage == nil {
		return &Reply{Text: "no image found, send an image first"}
	}

	result := u.ingester.Ingest(ctx, &model.IngestionRequest{
		Source:  session.Source,
		Locator: session.LastImage.Locator,
		Data:    session.LastImage.Data,
		Label:   cmd.Arg(0),
	})
	return &Reply{Text: result.Message()}
}

func (u *UseCase) category(cmd *Command) (model.Category, *Reply) {
	arg := cmd.Arg(0)
	if arg == "" {
		return "", &Reply{Text: fmt.Sprintf("usage: %s%s <emotion>", u.prefix, cmd.Name)}
	}
	c, ok := u.taxonomy.Resolve(arg)
	if !ok {
		return "", &Reply{Text: "invalid emotion: " + arg}
	}
	return c, nil
}

func (u *UseCase) list(cmd *Command) *Reply {
	c, reply := u.category(cmd)
	if reply != nil {
		return reply
	}

	refs, err := u.library.Listing(c)
	if err != nil {
		return &Reply{Text: "invalid emotion: " + string(c)}
	}
	if len(refs) == 0 {
		return &Reply{Text: fmt.Sprintf("no %s images", c)}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s images (%d):", c, len(refs))
	for _, r := range refs {
		fmt.Fprintf(&b, "\n%d. %s", r.Seq, r.Name())
	}
	return &Reply{Text: b.String()}
}

func (u *UseCase) send(cmd *Command) *Reply {
	c, reply := u.category(cmd)
	if reply != nil {
		return reply
	}

	ref, err := u.library.Sample(c)
	if err != nil {
		return &Reply{Text: "invalid emotion: " + string(c)}
	}
	if ref == nil {
		return &Reply{Text: fmt.Sprintf("no %s images", c)}
	}
	return &Reply{Text: string(c) + ":", Media: ref}
}

func (u *UseCase) stats() *Reply {
	var b strings.Builder
	total := 0
	b.WriteString("archive stats:")
	for _, s := range u.library.Stats() {
		fmt.Fprintf(&b, "\n%s: %d", s.Category, s.Count)
		total += s.Count
	}
	fmt.Fprintf(&b, "\ntotal: %d", total)
	return &Reply{Text: b.String()}
}

// Help lists the commands and the configured emotions
func (u *UseCase) Help() string {
	names := u.taxonomy.Names()
	list := make([]string, len(names))
	for i, n := range names {
		list[i] = string(n)
		if def, ok := u.taxonomy.Def(n); ok && def.Display != "" {
			list[i] += "(" + def.Display + ")"
		}
	}

	p := u.prefix
	return strings.Join([]string{
		"emotion image commands:",
		p + "add [emotion] - add the last image (emotion is detected when omitted)",
		p + "list <emotion> - list images of an emotion",
		p + "send <emotion> - send a random image of an emotion",
		p + "stats - show image counts",
		p + "help - show this help",
		"emotions: " + strings.Join(list, ", "),
	}, "\n")
}
