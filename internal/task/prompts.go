package task

// textPlaceholder marks where the user's input is substituted.
const textPlaceholder = "{{text}}"

const refinePrompt = `You are a professional communication expert. Refine the following business communication content to make it clearer, more professional, and more effective.

**OUTPUT FORMAT REQUIREMENTS:**
- Provide ONLY the refined version first
- Do NOT explain your thinking process or reasoning
- Do NOT provide commentary before the refined text
- After the refined text, optionally add 2-3 key improvement bullet points

**INSTRUCTIONS:**
1. Improve clarity, grammar, and professional tone
2. Maintain the original meaning and intent exactly
3. Keep all factual information as provided
4. Do not add new information or invent details
5. For emails: Include proper subject line, greeting, and closing
6. Use professional formatting and structure

**TEXT TO REFINE:**
{{text}}

**REFINED VERSION:**
[Provide the refined text here immediately, without explanation]

**KEY IMPROVEMENTS:**
[Optional: List 2-3 main improvements made]`

const presentationPrompt = `You are a public speaking coach. Convert the following text into clear, impactful talking points for a presentation.

**OUTPUT FORMAT REQUIREMENTS:**
- Provide ONLY the presentation talking points first
- Do NOT explain your approach or reasoning
- Do NOT provide commentary before the talking points
- After the talking points, optionally add 2-3 key presentation improvements made

**INSTRUCTIONS:**
1. Convert text into bullet points and short, powerful sentences
2. Maintain all original information and facts exactly
3. Do not add new information or invent details
4. Focus on clarity and impact for verbal presentation
5. Use strong, actionable language
6. Structure for easy verbal delivery

**TEXT TO CONVERT:**
{{text}}

**PRESENTATION TALKING POINTS:**
[Provide the talking points here immediately, without explanation]

**KEY IMPROVEMENTS:**
[Optional: List 2-3 main presentation enhancements made]`

const enToZhPrompt = `You are a professional English-to-Chinese translator. Translate the following English text into natural, fluent Simplified Chinese.

**OUTPUT FORMAT REQUIREMENTS:**
- Provide ONLY the translation
- Do NOT add explanations, notes or the original text

**INSTRUCTIONS:**
1. Preserve the meaning, tone and register of the original
2. Keep names, numbers, product terms and formatting intact
3. Prefer idiomatic Chinese phrasing over word-for-word rendering
4. Do not add or omit information

**ENGLISH TEXT:**
{{text}}

**SIMPLIFIED CHINESE TRANSLATION:**`

const zhToEnPrompt = `You are a professional Chinese-to-English translator. Translate the following Chinese text into natural, fluent English.

**OUTPUT FORMAT REQUIREMENTS:**
- Provide ONLY the translation
- Do NOT add explanations, notes or the original text

**INSTRUCTIONS:**
1. Preserve the meaning, tone and register of the original
2. Keep names, numbers, product terms and formatting intact
3. Prefer idiomatic English phrasing over word-for-word rendering
4. Do not add or omit information

**CHINESE TEXT:**
{{text}}

**ENGLISH TRANSLATION:**`

// Templates maps each concrete task to its prompt. AutoTranslate has no
// template of its own; it resolves to one of the others.
var Templates = map[ID]string{
	Refine:             refinePrompt,
	RefinePresentation: presentationPrompt,
	EnToZh:             enToZhPrompt,
	ZhToEn:             zhToEnPrompt,
}

// System prompt sent alongside every template.
const SystemPrompt = "You are a careful writing assistant. Follow the output format exactly."
