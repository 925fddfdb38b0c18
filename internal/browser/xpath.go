package browser

import (
	"fmt"
	"strings"
)

// xpathLiteral quotes s for use inside an XPath 1.0 expression, which has
// no escape sequences; strings containing both quote kinds use concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, `'`) {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, `'`)
	quoted := make([]string, 0, len(parts)*2)
	for i, part := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, "'"+part+"'")
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

// textXPath matches the first element, in document order, that is an
// interactive element labelled with text or directly contains it.
func textXPath(text string) string {
	lit := xpathLiteral(strings.TrimSpace(text))
	interactive := `self::a or self::button or @role='button' or @role='link' or @role='tab' or @role='menuitem'`
	return fmt.Sprintf(
		`(//*[(%[2]s) and normalize-space(.)=%[1]s] | //input[(@type='submit' or @type='button') and @value=%[1]s] | //*[(%[2]s) and contains(normalize-space(.), %[1]s)] | //*[text()[contains(normalize-space(.), %[1]s)]])[1]`,
		lit, interactive,
	)
}

// inputXPath matches a text field by placeholder, aria-label, name, id or
// the text of its label.
func inputXPath(label string) string {
	lit := xpathLiteral(strings.TrimSpace(label))
	field := `self::input or self::textarea or @contenteditable='true'`
	return fmt.Sprintf(
		`(//*[(%[2]s) and (@placeholder=%[1]s or @aria-label=%[1]s or @name=%[1]s or @id=%[1]s)] | //label[normalize-space(.)=%[1]s]//*[self::input or self::textarea] | //*[(self::input or self::textarea) and @id=//label[normalize-space(.)=%[1]s]/@for])[1]`,
		lit, field,
	)
}
