package collab

// Rect is the editing container's bounding box in absolute viewport
// coordinates.
type Rect struct {
	Top    float64
	Left   float64
	Width  float64
	Height float64
}

// EditorSurface is the capability the core needs from the rich-text widget:
// read the document and selection, replace the document, and map an offset to
// absolute screen coordinates. The widget's change notification must call
// SyncBridge.OnLocalDocumentChanged unless SetDocument was asked to suppress
// it.
type EditorSurface interface {
	Document() Document
	DocumentSize() int
	SelectionOffset() int
	SetDocument(doc Document, suppressNotify bool)
	CoordsAtOffset(offset int) (ScreenPoint, error)
}

// minOffset is the first addressable document position; offset 0 is reserved
// by the editor's addressing scheme.
const minOffset = 1

// Project maps a cursor record to container-relative coordinates. Sender-
// supplied screen coordinates are used verbatim and skip the offset lookup.
// Otherwise the record's offset is clamped into the document's valid range
// before lookup, tolerating stale offsets against a since-shrunk document.
// Returns false when the cursor cannot or must not be rendered: zero-sized
// container, surface lookup failure, or a point outside the container. A
// misplaced cursor never becomes an error.
func Project(surface EditorSurface, rec CursorRecord, container Rect) (ScreenPoint, bool) {
	if container.Width <= 0 || container.Height <= 0 {
		return ScreenPoint{}, false
	}
	if rec.Screen != nil {
		return visibleIn(*rec.Screen, container)
	}
	if surface == nil {
		return ScreenPoint{}, false
	}
	offset := clampOffset(rec.From, surface.DocumentSize())
	abs, err := surface.CoordsAtOffset(offset)
	if err != nil {
		return ScreenPoint{}, false
	}
	rel := ScreenPoint{Top: abs.Top - container.Top, Left: abs.Left - container.Left}
	return visibleIn(rel, container)
}

func clampOffset(offset, size int) int {
	if size < minOffset {
		return minOffset
	}
	if offset < minOffset {
		return minOffset
	}
	if offset > size {
		return size
	}
	return offset
}

func visibleIn(p ScreenPoint, container Rect) (ScreenPoint, bool) {
	if p.Top < 0 || p.Left < 0 || p.Top > container.Height || p.Left > container.Width {
		return ScreenPoint{}, false
	}
	return p, true
}
