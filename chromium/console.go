package chromium

import (
	"strings"

	"github.com/chromedp/cdproto/runtime"
	"github.com/tidwall/gjson"
)

// consoleText renders console API arguments the way the browser's own
// console shows them: strings unquoted, other JSON values verbatim, and
// non-serializable objects by their description.
func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, remoteObjectText(arg))
	}
	return strings.Join(parts, " ")
}

func remoteObjectText(o *runtime.RemoteObject) string {
	if o == nil {
		return ""
	}
	if len(o.Value) > 0 {
		v := gjson.ParseBytes([]byte(o.Value))
		if v.Type == gjson.String {
			return v.Str
		}
		return v.Raw
	}
	if o.UnserializableValue != "" {
		return string(o.UnserializableValue)
	}
	if o.Description != "" {
		return o.Description
	}
	return string(o.Type)
}

// exceptionText renders an uncaught exception, stack included when the
// browser provides one in the description.
func exceptionText(d *runtime.ExceptionDetails) string {
	if d == nil {
		return "Uncaught exception"
	}
	if d.Exception != nil && d.Exception.Description != "" {
		return "Uncaught " + d.Exception.Description
	}
	return "Uncaught " + d.Text
}
