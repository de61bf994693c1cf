package assets

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/noor-live/backend/internal/models"
	"github.com/noor-live/backend/pkg/errs"
)

// typeDef classifies one shareable block kind by CSS selector. Scan order is
// fixed: ids are positional within a type, so identical content always yields
// identical share ids. An upstream edit that reorders blocks reassigns ids;
// that is a property of the id scheme, not a defect of the scanner.
type typeDef struct {
	name     string
	selector string
}

var typeDefs = []typeDef{
	{"ayah-card", ".ayah-card"},
	{"ahadees-content", "[class*='ahadees'], [id*='ahadees']"},
	{"inline-arabic", ".inlineArabic, .arabic-text"},
	{"islamic-table", ".islamic-table, .content-table, .comparison-table"},
	{"image", "img"},
}

var typeNames = func() map[string]struct{} {
	m := make(map[string]struct{}, len(typeDefs))
	for _, d := range typeDefs {
		m[d.name] = struct{}{}
	}
	return m
}()

const shareAttr = "data-share-id"

// scanContent walks the document once and returns it with every detected
// block tagged, plus the detected asset set in scan order. A type with zero
// matches is not an error; only an unscannable document fails.
func scanContent(html string) (string, []models.ShareableAsset, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil, fmt.Errorf("empty document: %w", errs.ErrContentParse)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", nil, fmt.Errorf("%v: %w", err, errs.ErrContentParse)
	}

	var found []models.ShareableAsset
	for _, def := range typeDefs {
		n := 0
		doc.Find(def.selector).Each(func(_ int, sel *goquery.Selection) {
			// A node already claimed by an earlier type keeps its first id.
			if _, tagged := sel.Attr(shareAttr); tagged {
				return
			}
			n++
			shareID := fmt.Sprintf("%s-%d", def.name, n)
			sel.SetAttr(shareAttr, shareID)
			outer, err := goquery.OuterHtml(sel)
			if err != nil {
				return
			}
			sum := sha256.Sum256([]byte(outer))
			found = append(found, models.ShareableAsset{
				ShareID:     shareID,
				Type:        def.name,
				Instance:    n,
				Fingerprint: hex.EncodeToString(sum[:]),
				Payload:     outer,
			})
		})
	}

	tagged, err := doc.Find("body").Html()
	if err != nil {
		return "", nil, fmt.Errorf("render tagged content: %w", err)
	}
	return tagged, found, nil
}

// wellFormedShareID reports whether id has the "{type}-{n}" shape with a
// known type and a positive instance number.
func wellFormedShareID(id string) bool {
	i := strings.LastIndex(id, "-")
	if i <= 0 || i == len(id)-1 {
		return false
	}
	if _, ok := typeNames[id[:i]]; !ok {
		return false
	}
	n, err := strconv.Atoi(id[i+1:])
	return err == nil && n >= 1
}
