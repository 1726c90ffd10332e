package files

import (
	"path/filepath"
	"strings"

	"github.com/phxd-project/phxd/internal/protocol"
)

type codes struct {
	typ     uint32
	creator uint32
}

func code(typ, creator string) codes {
	return codes{typ: protocol.CharConst(typ), creator: protocol.CharConst(creator)}
}

var defaultCodes = code("BINA", "dosa")

var extensionCodes = map[string]codes{
	".txt":  code("TEXT", "ttxt"),
	".text": code("TEXT", "ttxt"),
	".md":   code("TEXT", "ttxt"),
	".nfo":  code("TEXT", "ttxt"),
	".htm":  code("TEXT", "MOSS"),
	".html": code("TEXT", "MOSS"),
	".rtf":  code("TEXT", "MSWD"),
	".pdf":  code("PDF ", "CARO"),
	".doc":  code("WDBN", "MSWD"),
	".gif":  code("GIFf", "ogle"),
	".jpg":  code("JPEG", "ogle"),
	".jpeg": code("JPEG", "ogle"),
	".png":  code("PNGf", "ogle"),
	".bmp":  code("BMPp", "ogle"),
	".tif":  code("TIFF", "ogle"),
	".tiff": code("TIFF", "ogle"),
	".mp3":  code("MPG3", "TVOD"),
	".aif":  code("AIFF", "TVOD"),
	".aiff": code("AIFF", "TVOD"),
	".wav":  code("WAVE", "TVOD"),
	".mov":  code("MooV", "TVOD"),
	".mp4":  code("mpg4", "TVOD"),
	".avi":  code("VfW ", "TVOD"),
	".sit":  code("SIT!", "SIT!"),
	".sea":  code("APPL", "aust"),
	".hqx":  code("TEXT", "SITx"),
	".bin":  code("SIT!", "SITx"),
	".zip":  code("ZIP ", "SITx"),
	".gz":   code("Gzip", "SITx"),
	".tgz":  code("Gzip", "SITx"),
	".tar":  code("TARF", "SITx"),
	".dmg":  code("devi", "ddsk"),
	".img":  code("rohd", "ddsk"),
	".exe":  code("DEXE", "CWIE"),
}

// guessCodes picks type and creator codes from a file name extension.
func guessCodes(name string) codes {
	if c, ok := extensionCodes[strings.ToLower(filepath.Ext(name))]; ok {
		return c
	}
	return defaultCodes
}
