package framer

type lexState int

const (
	lexStart lexState = iota
	lexNameStart
	lexName
	lexAttrs
	lexQuoted
	lexSlash
)

// ScanOpenTag reads the opening tag at the start of s. Attribute values are
// skipped with their quotes honoured, so a '>' inside a value does not end
// the tag.
func ScanOpenTag(s string) (Tag, error) {
	var (
		state     = lexStart
		quote     byte
		nameStart int
		nameEnd   int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch state {
		case lexStart:
			if c != '<' {
				return Tag{}, ErrNoOpenTag
			}
			state = lexNameStart
		case lexNameStart:
			if c == '/' || c == '!' || c == '?' || isSpace(c) || c == '>' {
				return Tag{}, ErrNoOpenTag
			}
			nameStart = i
			state = lexName
		case lexName:
			switch {
			case isSpace(c):
				nameEnd = i
				state = lexAttrs
			case c == '/':
				nameEnd = i
				state = lexSlash
			case c == '>':
				return newTag(s, nameStart, i, i, false), nil
			}
		case lexAttrs:
			switch {
			case c == '"' || c == '\'':
				quote = c
				state = lexQuoted
			case c == '/':
				state = lexSlash
			case c == '>':
				return newTag(s, nameStart, nameEnd, i, false), nil
			}
		case lexQuoted:
			if c == quote {
				state = lexAttrs
			}
		case lexSlash:
			if c == '>' {
				return newTag(s, nameStart, nameEnd, i, true), nil
			}
			state = lexAttrs
			i--
		}
	}
	if state == lexStart {
		return Tag{}, ErrNoOpenTag
	}
	return Tag{}, ErrUnterminatedTag
}

func newTag(s string, nameStart, nameEnd, closeAt int, selfClosing bool) Tag {
	name := s[nameStart:nameEnd]
	tag := Tag{Local: name, Text: s[:closeAt+1], SelfClosing: selfClosing}
	for j := 0; j < len(name); j++ {
		if name[j] == ':' {
			tag.Prefix = name[:j]
			tag.Local = name[j+1:]
			break
		}
	}
	return tag
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
