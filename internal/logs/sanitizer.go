package logs

import (
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

// masker rewrites one class of credential found in log output.
type masker struct {
	re   *regexp.Regexp
	mask func(string) string
}

// maskers covers the credentials that travel through proxied AI traffic.
// The Anthropic rule runs before the generic sk- rule so sk-ant keys
// keep their longer prefix instead of matching as OpenAI keys.
var maskers = []masker{
	{
		re:   regexp.MustCompile(`\b(sk-ant-[A-Za-z0-9\-_]{30,})\b`),
		mask: func(s string) string { return keep(s, 10, 2) },
	},
	{
		re:   regexp.MustCompile(`\b(sk-[A-Za-z0-9]{20,})\b`),
		mask: func(s string) string { return keep(s, 5, 2) },
	},
	{
		re:   regexp.MustCompile(`\b(Bearer\s+[A-Za-z0-9\-\._~\+\/]+=*)\b`),
		mask: maskBearer,
	},
	{
		re:   regexp.MustCompile(`\b(eyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+)\b`),
		mask: maskJWT,
	},
}

// keep retains pre leading and suf trailing characters of a secret.
func keep(s string, pre, suf int) string {
	if len(s) <= pre+suf {
		return "****"
	}
	return s[:pre] + "***" + s[len(s)-suf:]
}

func maskBearer(s string) string {
	parts := strings.Fields(s)
	if len(parts) != 2 || len(parts[1]) <= 6 {
		return "Bearer ****"
	}
	token := parts[1]
	return "Bearer " + token[:4] + "***" + token[len(token)-2:]
}

func maskJWT(s string) string {
	parts := strings.Split(s, ".")
	if len(parts) != 3 || len(parts[2]) < 4 {
		return "****"
	}
	sig := parts[2]
	return parts[0] + ".***." + sig[len(sig)-4:]
}

func maskText(s string) string {
	for _, m := range maskers {
		s = m.re.ReplaceAllStringFunc(s, m.mask)
	}
	return s
}

func maskField(f zapcore.Field) zapcore.Field {
	switch f.Type {
	case zapcore.StringType:
		f.String = maskText(f.String)
	case zapcore.ByteStringType:
		if b, ok := f.Interface.([]byte); ok {
			f.Interface = []byte(maskText(string(b)))
		}
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok {
			masked := maskText(err.Error())
			if masked != err.Error() {
				f = zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: masked}
			}
		}
	}
	return f
}

// maskCore masks credentials in messages and fields before handing the
// entry to the wrapped core. The proxy sees live Authorization headers
// for every provider its users talk to; a stray error message must not
// echo one verbatim.
type maskCore struct {
	zapcore.Core
}

// MaskSecrets wraps core so every entry written through it has known
// credential shapes redacted.
func MaskSecrets(core zapcore.Core) zapcore.Core {
	return &maskCore{Core: core}
}

func (c *maskCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = maskText(entry.Message)
	masked := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		masked[i] = maskField(f)
	}
	return c.Core.Write(entry, masked)
}

func (c *maskCore) With(fields []zapcore.Field) zapcore.Core {
	masked := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		masked[i] = maskField(f)
	}
	return &maskCore{Core: c.Core.With(masked)}
}

func (c *maskCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}
