package services

import (
	"fmt"
	"strings"

	domain "github.com/adperception/survey/internal/domain"
)

const adSystemInstruction = "You are an expert marketing copywriter. Follow instructions carefully."

// DefaultProductCatalog is used when survey content does not override the product list.
var DefaultProductCatalog = []string{
	"t-shirts", "shoes", "hats", "skincare", "watches",
	"phones", "jacket", "backpack", "headphones", "drinks",
}

var tierWords = map[int]string{1: "one", 2: "two", 3: "three", 4: "all four"}

// BuildAdPrompt renders the generation instruction for one participant.
func BuildAdPrompt(profile ParticipantProfile, plan CombinationPlan, catalog []string) GenerationRequest {
	if len(catalog) == 0 {
		catalog = DefaultProductCatalog
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Generate %d one-sentence personalized advertisements for these products: %s\n",
		len(plan), productList(catalog, profile.PurchaseIntent))
	b.WriteString("Pick a random product for each advertisement you generate.\n")
	fmt.Fprintf(&b, "Personalize each ad using these features from the survey: %s\n\n", describeProfile(profile))

	b.WriteString("Make the ads sophisticated, playful, and appealing.\n")
	b.WriteString("If including the name, feel free to use wordplay or puns.\n")
	b.WriteString("If including location, you can imply the location cleverly.\n")
	b.WriteString("Tailor ads to match participant characteristics (age, gender) in either a subtle or stereotypical way.\n\n")

	b.WriteString("You don't have to strictly use all the details as-is; make the advertisement catchy and attractive ")
	b.WriteString("(use emojis commonly found in advertisements, including 🔥 👀 ⚡️ ✨). ")
	b.WriteString("The age doesn't have to be included if not relevant, but use it for creating relevant context. ")
	b.WriteString("Change the structure/phrasing of each advertisement so the personalized features are not obvious. ")
	b.WriteString("The features should not be right at the beginning of every advertisement. ")
	b.WriteString("The creepiness should get higher as more features are included, and the ads will be concerningly more personalized.\n\n")

	fmt.Fprintf(&b, "Output %d different advertisements.", len(plan))
	for size := 1; size <= len(domain.Features()); size++ {
		tier := plan.Tier(size)
		if len(tier) == 0 {
			continue
		}
		fmt.Fprintf(&b, " %d will use %s personalised %s - %s.",
			len(tier), tierWords[size], pluralFeature(size), joinCombinations(tier))
	}
	b.WriteString("\n\n")

	b.WriteString("Output as a JSON dictionary where the key is a comma-separated string of the features used ")
	fmt.Fprintf(&b, "(exactly one of: %s) ", quoteKeys(plan.Keys()))
	b.WriteString("and the value is the advertisement string. Strictly output valid JSON, no extra text.\n")

	return GenerationRequest{
		System:     adSystemInstruction,
		Prompt:     b.String(),
		JSONOutput: true,
	}
}

func productList(catalog []string, intent string) string {
	list := strings.Join(catalog, ", ")
	if trimmed := strings.TrimSpace(intent); trimmed != "" {
		return fmt.Sprintf("%s, and occasionally the product they are currently interested in purchasing: %s.", list, trimmed)
	}
	return list + "."
}

func describeProfile(p ParticipantProfile) string {
	parts := []string{
		fmt.Sprintf("Name: %s", p.Name),
		fmt.Sprintf("Location: %s", p.Location),
		fmt.Sprintf("Age: %d", p.Age),
		fmt.Sprintf("Gender: %s", p.Gender),
	}
	if intent := strings.TrimSpace(p.PurchaseIntent); intent != "" {
		parts = append(parts, fmt.Sprintf("Purchase Intent: %s", intent))
	}
	return "{" + strings.Join(parts, "; ") + "}"
}

func pluralFeature(size int) string {
	if size == 1 {
		return "feature"
	}
	return "features"
}

func joinCombinations(combos []FeatureCombination) string {
	parts := make([]string, len(combos))
	for i, c := range combos {
		if c.Size() == 1 {
			parts[i] = c.String()
			continue
		}
		parts[i] = "(" + strings.ReplaceAll(c.String(), ",", ", ") + ")"
	}
	return strings.Join(parts, ", ")
}

func quoteKeys(keys []string) string {
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = fmt.Sprintf("%q", k)
	}
	return strings.Join(quoted, ", ")
}
