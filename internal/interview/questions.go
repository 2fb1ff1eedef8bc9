package interview

import (
	"fmt"
	"strings"
)

// keywordBank maps a symptom keyword to questions per body area. The "" area
// entry applies when no area-specific list exists. Keywords are matched in
// order against the lowercased symptom text.
var keywordBank = []struct {
	keyword string
	byArea  map[string][]string
}{
	{"pain", map[string][]string{
		"head": {
			"Where in your head is the pain strongest: the forehead, temples, back of the head, or behind the eyes?",
			"Is the pain in your head throbbing, pressing, or sharp, and how would you rate it from 1 to 10?",
			"Does anything make the pain in your head better or worse, such as light, noise, or lying down?",
		},
		"chest": {
			"Does the chest pain spread to your arm, jaw, neck, or back?",
			"Does the pain in your chest change when you breathe deeply, move, or press on the area?",
		},
		"back": {
			"Is the pain in your back in the lower, middle, or upper back, and does it travel down a leg?",
			"Did the back pain start after lifting, a fall, or another specific movement?",
		},
		"abdomen": {
			"Which part of your abdomen hurts most: upper, lower, left, right, or around the navel?",
			"Is the abdominal pain constant, or does it come and go in waves?",
		},
		"knee": {
			"Is the knee pain at the front, inside, outside, or back of the knee?",
			"Does your knee hurt more on stairs, when kneeling, or after sitting for a while?",
		},
		"": {
			"How would you rate the pain from 1 to 10, and has it changed since it started?",
			"Is the pain constant, or does it come and go?",
		},
	}},
	{"headache", map[string][]string{
		"": {
			"How often do the headaches happen, and how long does each one last?",
			"Do you notice any warning signs before the headache starts, such as visual changes?",
		},
	}},
	{"swelling", map[string][]string{
		"knee": {"Did the swelling in your knee appear suddenly or build up over hours or days?"},
		"": {
			"Is the swollen area warm, red, or tender to the touch?",
			"Does the swelling go down with rest or elevation?",
		},
	}},
	{"rash", map[string][]string{
		"": {
			"Is the rash itchy, painful, or neither, and has it spread since you first noticed it?",
			"Have you started any new medications, soaps, or foods recently?",
		},
	}},
	{"numb", map[string][]string{
		"": {
			"Where exactly do you feel the numbness or tingling, and is it on one side or both?",
			"Is the numbness constant, or does it come and go with certain positions?",
		},
	}},
	{"dizz", map[string][]string{
		"head": {"Does the dizziness feel like the room is spinning, or more like light-headedness in your head?"},
		"": {"Does the dizziness happen when you stand up, turn your head, or at random times?"},
	}},
	{"fever", map[string][]string{
		"": {
			"What is the highest temperature you have measured, and for how many days?",
			"Do you have chills, sweats, or body aches along with the fever?",
		},
	}},
	{"cough", map[string][]string{
		"chest": {"Do you feel tightness in your chest or wheezing when you cough?"},
		"": {
			"Is the cough dry, or are you bringing up mucus, and what color is it?",
			"Is the cough worse at night or after physical activity?",
		},
	}},
	{"stiff", map[string][]string{
		"": {"Is the stiffness worse in the morning, and how long does it take to ease?"},
	}},
}

// areaBank holds generic questions for a body area, asked after keyword
// questions run out.
var areaBank = map[string][]string{
	"head": {
		"Have you noticed any changes in vision, balance, or speech along with the symptoms in your head?",
		"Have you had any recent injury or blow to your head?",
	},
	"chest": {
		"Do you feel short of breath, or does your heart feel like it is racing?",
	},
	"back": {
		"Do you have any weakness or loss of sensation in your legs?",
	},
	"abdomen": {
		"Have you had nausea, vomiting, or changes in bowel habits?",
	},
	"knee": {
		"Does your knee feel unstable, lock, or give way when you put weight on it?",
	},
	"skin": {
		"Has the appearance of the affected skin changed in size, color, or texture?",
	},
	"throat": {
		"Is it painful to swallow, and have you noticed any swelling in your neck?",
	},
}

// genericTemplates are the last resort. %s is the body area.
var genericTemplates = []string{
	"Can you describe when the symptoms in your %s first started and how they have changed since?",
	"How much are the symptoms in your %s affecting your daily activities or sleep?",
	"Have you tried anything for the symptoms in your %s, and did it help?",
	"Is there anything else about your %s that you think is important for us to know?",
}

// subjectArea returns the normalized body area, falling back to the category.
func subjectArea(s Subject) string {
	area := strings.ToLower(strings.TrimSpace(s.BodyArea))
	if area == "" {
		area = strings.ToLower(strings.TrimSpace(s.Category))
	}
	return area
}

// FallbackQuestions returns the ordered contextual questions for a subject:
// keyword matches for the body area, then generic questions for the area,
// then templated questions that name the area. The list is never empty.
func FallbackQuestions(s Subject) []string {
	area := subjectArea(s)
	symptoms := strings.ToLower(s.Symptoms)

	var out []string
	seen := make(map[string]bool)
	add := func(qs ...string) {
		for _, q := range qs {
			if !seen[q] {
				seen[q] = true
				out = append(out, q)
			}
		}
	}

	for _, kw := range keywordBank {
		if !strings.Contains(symptoms, kw.keyword) {
			continue
		}
		if qs, ok := kw.byArea[area]; ok {
			add(qs...)
		} else {
			add(kw.byArea[""]...)
		}
	}
	add(areaBank[area]...)

	label := area
	if label == "" {
		label = "affected area"
	}
	for _, tmpl := range genericTemplates {
		add(fmt.Sprintf(tmpl, label))
	}
	return out
}

// FallbackQuestion returns the index-th contextual question for a subject.
// Indexes past the end reuse the last question, so the result is never blank.
func FallbackQuestion(s Subject, index int) string {
	qs := FallbackQuestions(s)
	if index < 0 {
		index = 0
	}
	if index >= len(qs) {
		index = len(qs) - 1
	}
	return qs[index]
}
