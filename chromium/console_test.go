package chromium

import (
	"testing"

	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
)

func TestConsoleText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []*runtime.RemoteObject
		want string
	}{
		{
			name: "string",
			args: []*runtime.RemoteObject{{Type: runtime.TypeString, Value: []byte(`"p5 setup done"`)}},
			want: "p5 setup done",
		},
		{
			name: "escaped_string",
			args: []*runtime.RemoteObject{{Type: runtime.TypeString, Value: []byte(`"line \"one\"\ttab"`)}},
			want: "line \"one\"\ttab",
		},
		{
			name: "mixed",
			args: []*runtime.RemoteObject{
				{Type: runtime.TypeString, Value: []byte(`"prediction length"`)},
				{Type: runtime.TypeNumber, Value: []byte(`6480`)},
				{Type: runtime.TypeBoolean, Value: []byte(`true`)},
			},
			want: "prediction length 6480 true",
		},
		{
			name: "object_value",
			args: []*runtime.RemoteObject{{Type: runtime.TypeObject, Value: []byte(`{"alt":408}`)}},
			want: `{"alt":408}`,
		},
		{
			name: "unserializable",
			args: []*runtime.RemoteObject{{Type: runtime.TypeNumber, UnserializableValue: "NaN"}},
			want: "NaN",
		},
		{
			name: "description",
			args: []*runtime.RemoteObject{{Type: runtime.TypeObject, Description: "HTMLCanvasElement"}},
			want: "HTMLCanvasElement",
		},
		{
			name: "undefined",
			args: []*runtime.RemoteObject{{Type: runtime.TypeUndefined}},
			want: "undefined",
		},
		{name: "no_args", want: ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, consoleText(tt.args))
		})
	}
}

func TestExceptionText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Uncaught exception", exceptionText(nil))
	assert.Equal(t, "Uncaught TypeError: x is undefined\n    at sketch.js:3:1", exceptionText(&runtime.ExceptionDetails{
		Text:      "Uncaught",
		Exception: &runtime.RemoteObject{Description: "TypeError: x is undefined\n    at sketch.js:3:1"},
	}))
	assert.Equal(t, "Uncaught SyntaxError", exceptionText(&runtime.ExceptionDetails{Text: "SyntaxError"}))
}
