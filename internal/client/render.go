package client

import (
	"fmt"
	"strings"

	"github.com/ButyrinIA/feedsync/internal/models"
)

// RenderUpdate превращает обновление ленты в текст для консоли
func RenderUpdate(update models.Update) string {
	switch update.Kind {
	case models.UpdateLine:
		return RenderLine(*update.Line)
	case models.UpdateUpsert, models.UpdateEdit:
		return RenderUnit(*update.Unit)
	case models.UpdateRemove:
		return fmt.Sprintf("- [%s]\n", update.Key)
	case models.UpdateSession:
		return fmt.Sprintf("* session %s\n", update.Key)
	case models.UpdateError:
		return fmt.Sprintf("! %v\n", update.Err)
	}
	return ""
}

func RenderLine(line models.Line) string {
	switch line.Kind {
	case models.LineState:
		return fmt.Sprintf("* %s\n", line.Text)
	case models.LineHeader:
		return fmt.Sprintf("(%s)\n", line.Text)
	}
	return line.Text + "\n"
}

func RenderUnit(unit models.RenderUnit) string {
	var b strings.Builder
	marker := ""
	if unit.Editable {
		marker = " (editing)"
	}
	fmt.Fprintf(&b, "[%s]%s %s\n", unit.Key, marker, unit.Post.Title)
	fmt.Fprintf(&b, "    %s\n", unit.Post.Body)

	actions := make([]string, len(unit.Actions))
	for i, action := range unit.Actions {
		actions[i] = string(action)
	}
	fmt.Fprintf(&b, "    <%s>\n", strings.Join(actions, "|"))
	return b.String()
}

func RenderUnits(units []models.RenderUnit) string {
	var b strings.Builder
	for _, unit := range units {
		b.WriteString(RenderUnit(unit))
	}
	return b.String()
}
