package accounts

import (
	"io/fs"
	"strings"

	"github.com/flosch/pongo2/v6"
	"github.com/goliatone/go-errors"
)

const (
	MailActivation    = "activation"
	MailPasswordReset = "password_reset"
)

// MailContext is the data exposed to mail templates
type MailContext struct {
	Protocol     string
	Domain       string
	Token        string
	User         *User
	TimeoutHours int
}

func (c MailContext) pongo() pongo2.Context {
	return pongo2.Context{
		"protocol":      c.Protocol,
		"domain":        c.Domain,
		"token":         c.Token,
		"user":          c.User,
		"timeout_hours": c.TimeoutHours,
	}
}

type mailTemplate struct {
	subject *pongo2.Template
	body    *pongo2.Template
}

// MailRenderer renders subject and body templates named
// <name>_subject.txt and <name>_message.txt
type MailRenderer struct {
	templates map[string]mailTemplate
}

// NewMailRenderer compiles the named templates found in fsys
func NewMailRenderer(fsys fs.FS, names ...string) (*MailRenderer, error) {
	if len(names) == 0 {
		names = []string{MailActivation, MailPasswordReset}
	}

	r := &MailRenderer{templates: make(map[string]mailTemplate, len(names))}

	for _, name := range names {
		subject, err := compileMailTemplate(fsys, name+"_subject.txt")
		if err != nil {
			return nil, err
		}

		body, err := compileMailTemplate(fsys, name+"_message.txt")
		if err != nil {
			return nil, err
		}

		r.templates[name] = mailTemplate{subject: subject, body: body}
	}

	return r, nil
}

// NewDefaultMailRenderer compiles the embedded mail templates
func NewDefaultMailRenderer() (*MailRenderer, error) {
	return NewMailRenderer(GetMailTemplatesFS())
}

// Render renders template name for recipient to. The subject is collapsed
// to a single line.
func (r *MailRenderer) Render(name, to string, data MailContext) (MailMessage, error) {
	tpl, ok := r.templates[name]
	if !ok {
		return MailMessage{}, errors.New("unknown mail template", errors.CategoryInternal).
			WithMetadata(map[string]any{"template": name})
	}

	ctx := data.pongo()

	subject, err := tpl.subject.Execute(ctx)
	if err != nil {
		return MailMessage{}, errors.Wrap(err, errors.CategoryInternal, "failed to render mail subject").
			WithMetadata(map[string]any{"template": name})
	}

	body, err := tpl.body.Execute(ctx)
	if err != nil {
		return MailMessage{}, errors.Wrap(err, errors.CategoryInternal, "failed to render mail body").
			WithMetadata(map[string]any{"template": name})
	}

	return MailMessage{
		To:      to,
		Subject: singleLine(subject),
		Body:    strings.TrimSpace(body) + "\n",
	}, nil
}

func compileMailTemplate(fsys fs.FS, file string) (*pongo2.Template, error) {
	src, err := fs.ReadFile(fsys, file)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to read mail template").
			WithMetadata(map[string]any{"file": file})
	}

	tpl, err := pongo2.FromString(string(src))
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to compile mail template").
			WithMetadata(map[string]any{"file": file})
	}

	return tpl, nil
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
