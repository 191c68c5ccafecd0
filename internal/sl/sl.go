// Package sl holds slog attribute helpers shared across packages.
package sl

import "log/slog"

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}

func Module(mod string) slog.Attr {
	return slog.String("mod", mod)
}

// Secret keeps the first five characters of value so credentials can be told
// apart in logs without being exposed.
func Secret(key, value string) slog.Attr {
	r := "***"
	if len(value) > 5 {
		r = value[0:5] + "***"
	}
	if value == "" {
		r = "?"
	}
	return slog.String(key, r)
}
