package classify

import (
	"bytes"
	_ "embed"
	"text/template"

	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

//go:embed prompt/image.md
var imagePromptRaw string

//go:embed prompt/text.md
var textPromptRaw string

var (
	imagePromptTmpl = template.Must(template.New("image").Parse(imagePromptRaw))
	textPromptTmpl  = template.Must(template.New("text").Parse(textPromptRaw))
)

func buildPrompt(tmpl *template.Template, categories []model.Category, text string, labelOnly bool) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any{
		"Categories": categories,
		"Text":       text,
		"LabelOnly":  labelOnly,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute prompt template", goerr.V("template", tmpl.Name()))
	}
	return buf.String(), nil
}
