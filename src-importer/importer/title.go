package importer

import (
	"golang.org/x/text/feature/plural"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	_ = message.Set(language.English, "Import %d events",
		plural.Selectf(1, "%d",
			plural.One, "Import %d event",
			plural.Other, "Import %d events"))
}

var titlePrinter = message.NewPrinter(language.English)

// importTitle renders the session title, pluralized by the event count.
func importTitle(n int) string {
	return titlePrinter.Sprintf("Import %d events", n)
}
