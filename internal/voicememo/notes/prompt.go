package notes

import (
	"fmt"
	"strings"
)

func systemPrompt(lang string) string {
	if lang == LanguageEN {
		return "You are a professional learning assistant specialized in organizing and summarizing course notes."
	}
	return "你是一個專業的學習助手，擅長整理和摘要課程筆記。請使用繁體中文回答。"
}

func buildPrompt(transcript string, opts Options, lang string) string {
	if lang == LanguageEN {
		return buildEnglishPrompt(transcript, opts)
	}
	return buildChinesePrompt(transcript, opts)
}

func buildChinesePrompt(transcript string, opts Options) string {
	var b strings.Builder

	course := ""
	if opts.CourseName != "" {
		course = fmt.Sprintf("「%s」課程的", opts.CourseName)
	}
	fmt.Fprintf(&b, "請幫我分析以下%s筆記內容：\n\n%s\n\n", course, transcript)

	n := 1
	b.WriteString("請提供：\n")
	fmt.Fprintf(&b, "%d. 摘要：簡潔的內容摘要（2-3 句話）\n", n)
	if opts.IncludeKeyPoints {
		n++
		fmt.Fprintf(&b, "%d. 關鍵點：列出 3-5 個重點（使用項目符號）\n", n)
	}
	n++
	fmt.Fprintf(&b, "%d. 建議標題：為這份筆記建議一個簡短的標題（少於 10 個字）\n", n)
	if opts.IncludeQuestions {
		n++
		fmt.Fprintf(&b, "%d. 複習問題：生成 2-3 個複習用問題\n", n)
	}

	b.WriteString("\n請使用以下格式：\n")
	b.WriteString(markerSummaryZH + "\n...\n\n")
	if opts.IncludeKeyPoints {
		b.WriteString(markerKeyPointsZH + "\n- ...\n- ...\n\n")
	}
	b.WriteString(markerTitleZH + "\n...\n")
	if opts.IncludeQuestions {
		b.WriteString("\n" + markerQuestionsZH + "\n1. ...\n2. ...\n")
	}
	return b.String()
}

func buildEnglishPrompt(transcript string, opts Options) string {
	var b strings.Builder

	if opts.CourseName != "" {
		fmt.Fprintf(&b, "Please analyze the following notes from %q course:\n\n%s\n\n", opts.CourseName, transcript)
	} else {
		fmt.Fprintf(&b, "Please analyze the following notes:\n\n%s\n\n", transcript)
	}

	n := 1
	b.WriteString("Please provide:\n")
	fmt.Fprintf(&b, "%d. Summary: A concise summary (2-3 sentences)\n", n)
	if opts.IncludeKeyPoints {
		n++
		fmt.Fprintf(&b, "%d. Key Points: List 3-5 main points (bullet points)\n", n)
	}
	n++
	fmt.Fprintf(&b, "%d. Suggested Title: A short title for this note (less than 10 words)\n", n)
	if opts.IncludeQuestions {
		n++
		fmt.Fprintf(&b, "%d. Review Questions: Generate 2-3 review questions\n", n)
	}

	b.WriteString("\nPlease use this format:\n")
	b.WriteString(markerSummaryEN + "\n...\n\n")
	if opts.IncludeKeyPoints {
		b.WriteString(markerKeyPointsEN + "\n- ...\n- ...\n\n")
	}
	b.WriteString(markerTitleEN + "\n...\n")
	if opts.IncludeQuestions {
		b.WriteString("\n" + markerQuestionsEN + "\n1. ...\n2. ...\n")
	}
	return b.String()
}
