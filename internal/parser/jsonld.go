package parser

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// product carries the normalized fields pulled out of a JSON-LD block.
type product struct {
	id          string
	name        string
	description string
	category    string
	ownerHandle string
	priceCents  int
	currency    string
	rating      float64
	ratingCount int
}

// ldProduct mirrors the subset of schema.org Product / SoftwareApplication
// the marketplace emits. Sites are sloppy about number-vs-string, so the
// flexible fields tolerate both.
type ldProduct struct {
	Type        flexStrings     `json:"@type"`
	ProductID   flexString      `json:"productID"`
	SKU         flexString      `json:"sku"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    flexString      `json:"category"`
	Author      json.RawMessage `json:"author"`
	Creator     json.RawMessage `json:"creator"`
	Offers      json.RawMessage `json:"offers"`
	Rating      *ldRating       `json:"aggregateRating"`
}

type ldOffer struct {
	Price         flexString `json:"price"`
	PriceCurrency string     `json:"priceCurrency"`
}

type ldRating struct {
	RatingValue flexString `json:"ratingValue"`
	RatingCount flexString `json:"ratingCount"`
	ReviewCount flexString `json:"reviewCount"`
}

type ldPerson struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// productFromJSONLD scans every ld+json script block and returns the first
// one describing a product. Blocks that fail to decode are skipped.
func productFromJSONLD(doc *goquery.Document) (product, bool) {
	var (
		found product
		ok    bool
	)
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		for _, ld := range decodeBlocks(sel.Text()) {
			if !ld.Type.contains("Product") && !ld.Type.contains("SoftwareApplication") {
				continue
			}
			found = normalize(ld)
			ok = true
			return false
		}
		return true
	})
	return found, ok
}

// decodeBlocks tolerates both a single object and an array of objects.
func decodeBlocks(raw string) []ldProduct {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var one ldProduct
	if err := json.Unmarshal([]byte(raw), &one); err == nil {
		return []ldProduct{one}
	}
	var many []ldProduct
	if err := json.Unmarshal([]byte(raw), &many); err == nil {
		return many
	}
	return nil
}

func normalize(ld ldProduct) product {
	p := product{
		name:        strings.TrimSpace(ld.Name),
		description: strings.TrimSpace(ld.Description),
		category:    strings.TrimSpace(string(ld.Category)),
	}
	if p.id = strings.TrimSpace(string(ld.ProductID)); p.id == "" {
		p.id = strings.TrimSpace(string(ld.SKU))
	}

	if person, ok := decodePerson(ld.Author); ok {
		p.ownerHandle = personHandle(person)
	}
	if p.ownerHandle == "" {
		if person, ok := decodePerson(ld.Creator); ok {
			p.ownerHandle = personHandle(person)
		}
	}

	if offer, ok := decodeOffer(ld.Offers); ok {
		p.priceCents = priceCents(string(offer.Price))
		p.currency = strings.ToUpper(strings.TrimSpace(offer.PriceCurrency))
		if p.currency == "" {
			p.currency = "USD"
		}
	}

	if ld.Rating != nil {
		p.rating, _ = strconv.ParseFloat(string(ld.Rating.RatingValue), 64)
		count := string(ld.Rating.RatingCount)
		if count == "" {
			count = string(ld.Rating.ReviewCount)
		}
		p.ratingCount, _ = strconv.Atoi(count)
	}
	return p
}

// decodeOffer accepts a single offer object or an array, taking the first.
func decodeOffer(raw json.RawMessage) (ldOffer, bool) {
	if len(raw) == 0 {
		return ldOffer{}, false
	}
	var one ldOffer
	if err := json.Unmarshal(raw, &one); err == nil {
		return one, true
	}
	var many []ldOffer
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 {
		return many[0], true
	}
	return ldOffer{}, false
}

// decodePerson accepts a person object or a bare name string.
func decodePerson(raw json.RawMessage) (ldPerson, bool) {
	if len(raw) == 0 {
		return ldPerson{}, false
	}
	var obj ldPerson
	if err := json.Unmarshal(raw, &obj); err == nil && (obj.Name != "" || obj.URL != "") {
		return obj, true
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil && name != "" {
		return ldPerson{Name: name}, true
	}
	return ldPerson{}, false
}

// personHandle prefers the @handle embedded in the profile URL over the
// display name, which is neither unique nor stable.
func personHandle(p ldPerson) string {
	if h := handleFromHref(p.URL); h != "" {
		return h
	}
	return strings.TrimSpace(p.Name)
}

// priceCents converts a price string to integer cents without going
// through floats. "Free", "0" and empty all mean zero.
func priceCents(raw string) int {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimLeft(raw, "$€£ ")
	if raw == "" || strings.EqualFold(raw, "free") {
		return 0
	}
	whole, frac, _ := strings.Cut(raw, ".")
	dollars, err := strconv.Atoi(whole)
	if err != nil || dollars < 0 {
		return 0
	}
	cents := dollars * 100
	if frac != "" {
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}
		if c, err := strconv.Atoi(frac); err == nil {
			cents += c
		}
	}
	return cents
}

// flexString decodes a JSON string, number or boolean into its text form.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(strings.TrimSpace(string(b)))
	return nil
}

// flexStrings decodes a JSON string or array of strings.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*f = []string{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*f = many
	return nil
}

func (f flexStrings) contains(want string) bool {
	for _, s := range f {
		if s == want {
			return true
		}
	}
	return false
}
