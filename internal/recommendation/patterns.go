package recommendation

import (
	"regexp"
	"time"
)

// complementPattern maps a product-text pattern to the accessory keywords a
// matching cart line suggests. Patterns run case-insensitively over
// "{product_title} {product_type}".
type complementPattern struct {
	match    *regexp.Regexp
	keywords []string
}

var complementPatterns = []complementPattern{
	{regexp.MustCompile(`(?i)running|athletic|sport|sneaker|trainer`), []string{"performance socks", "insoles", "water bottle", "gym towel"}},
	{regexp.MustCompile(`(?i)boot|hiking|outdoor`), []string{"wool socks", "boot care kit", "waterproof spray"}},
	{regexp.MustCompile(`(?i)coffee|espresso|brew`), []string{"coffee filter", "travel mug", "milk frother"}},
	{regexp.MustCompile(`(?i)tea|matcha|infusion`), []string{"tea infuser", "honey", "teapot"}},
	{regexp.MustCompile(`(?i)phone|iphone|android|smartphone`), []string{"phone case", "screen protector", "charging cable"}},
	{regexp.MustCompile(`(?i)laptop|notebook|macbook`), []string{"laptop sleeve", "usb hub", "laptop stand"}},
	{regexp.MustCompile(`(?i)camera|lens|dslr`), []string{"memory card", "camera bag", "tripod"}},
	{regexp.MustCompile(`(?i)yoga|pilates|fitness mat`), []string{"yoga block", "resistance band", "mat spray"}},
	{regexp.MustCompile(`(?i)dress|gown|skirt`), []string{"clutch bag", "necklace", "heels"}},
	{regexp.MustCompile(`(?i)shirt|tee|top|blouse`), []string{"jeans", "belt", "cardigan"}},
	{regexp.MustCompile(`(?i)skincare|serum|moisturizer|cleanser`), []string{"face mask", "toner", "sunscreen"}},
	{regexp.MustCompile(`(?i)candle|diffuser|fragrance`), []string{"wick trimmer", "matches", "candle tray"}},
	{regexp.MustCompile(`(?i)dog|puppy|canine`), []string{"dog treats", "chew toy", "leash"}},
	{regexp.MustCompile(`(?i)cat|kitten|feline`), []string{"cat treats", "scratching post", "cat toy"}},
	{regexp.MustCompile(`(?i)baby|infant|newborn`), []string{"bib", "swaddle", "pacifier"}},
	{regexp.MustCompile(`(?i)grill|bbq|barbecue`), []string{"grill brush", "tongs", "marinade"}},
}

// keywordsForText collects the complement keywords of every pattern the
// given product text matches, deduplicated in table order.
func keywordsForText(text string) []string {
	seen := map[string]struct{}{}
	var keywords []string
	for _, p := range complementPatterns {
		if !p.match.MatchString(text) {
			continue
		}
		for _, kw := range p.keywords {
			if _, ok := seen[kw]; ok {
				continue
			}
			seen[kw] = struct{}{}
			keywords = append(keywords, kw)
		}
	}
	return keywords
}

// seasonalKeywords returns the trending search terms for the given month.
func seasonalKeywords(month time.Month) []string {
	switch month {
	case time.December, time.January:
		return []string{"gift set", "winter warmer"}
	case time.February:
		return []string{"valentine", "gift set"}
	case time.June, time.July, time.August:
		return []string{"summer essentials", "travel size"}
	case time.September, time.October:
		return []string{"back to school", "autumn"}
	case time.November:
		return []string{"gift set", "holiday bundle"}
	default:
		return []string{"new arrival", "bestseller"}
	}
}
