package tools

import (
	"sort"
	"strings"
	"time"
)

// Paper 是文献检索结果的统一结构，贯穿步骤执行、上下文投影与评估。
type Paper struct {
	Title         string   `json:"title"`
	Authors       []string `json:"authors,omitempty"`
	Year          int      `json:"year,omitempty"`
	Abstract      string   `json:"abstract,omitempty"`
	URL           string   `json:"url,omitempty"`
	PDFURL        string   `json:"pdf_url,omitempty"`
	CitationCount int      `json:"citation_count,omitempty"`
}

// 内置的模拟文献库。真实部署中由 arXiv / Semantic Scholar 数据源
// 插件替换，这里保证离线环境下检索链路可以端到端运行。
var builtinCorpus = []Paper{
	{
		Title:         "Attention Is All You Need",
		Authors:       []string{"Ashish Vaswani", "Noam Shazeer"},
		Year:          2017,
		Abstract:      "We propose the Transformer, a model architecture relying entirely on attention mechanisms for sequence transduction.",
		URL:           "https://arxiv.org/abs/1706.03762",
		PDFURL:        "https://arxiv.org/pdf/1706.03762",
		CitationCount: 120000,
	},
	{
		Title:         "Language Models are Few-Shot Learners",
		Authors:       []string{"Tom B. Brown"},
		Year:          2020,
		Abstract:      "We show that scaling up language models greatly improves task-agnostic, few-shot performance.",
		URL:           "https://arxiv.org/abs/2005.14165",
		PDFURL:        "https://arxiv.org/pdf/2005.14165",
		CitationCount: 45000,
	},
	{
		Title:         "Denoising Diffusion Probabilistic Models",
		Authors:       []string{"Jonathan Ho", "Ajay Jain", "Pieter Abbeel"},
		Year:          2020,
		Abstract:      "We present high quality image synthesis results using diffusion probabilistic models.",
		URL:           "https://arxiv.org/abs/2006.11239",
		PDFURL:        "https://arxiv.org/pdf/2006.11239",
		CitationCount: 18000,
	},
	{
		Title:         "Chain-of-Thought Prompting Elicits Reasoning in Large Language Models",
		Authors:       []string{"Jason Wei"},
		Year:          2022,
		Abstract:      "Generating a chain of thought significantly improves the ability of large language models to perform complex reasoning.",
		URL:           "https://arxiv.org/abs/2201.11903",
		PDFURL:        "https://arxiv.org/pdf/2201.11903",
		CitationCount: 9000,
	},
	{
		Title:         "Retrieval-Augmented Generation for Knowledge-Intensive NLP Tasks",
		Authors:       []string{"Patrick Lewis"},
		Year:          2020,
		Abstract:      "We explore a general-purpose fine-tuning recipe for retrieval-augmented generation.",
		URL:           "https://arxiv.org/abs/2005.11401",
		CitationCount: 12000,
	},
	{
		Title:         "Quantum Supremacy Using a Programmable Superconducting Processor",
		Authors:       []string{"Frank Arute"},
		Year:          2019,
		Abstract:      "We report the use of a processor with programmable superconducting qubits to sample the output of a pseudo-random quantum circuit.",
		URL:           "https://www.nature.com/articles/s41586-019-1666-5",
		CitationCount: 8000,
	},
	{
		Title:         "Highly Accurate Protein Structure Prediction with AlphaFold",
		Authors:       []string{"John Jumper"},
		Year:          2021,
		Abstract:      "We provide the first computational method that can regularly predict protein structures with atomic accuracy.",
		URL:           "https://www.nature.com/articles/s41586-021-03819-2",
		CitationCount: 25000,
	},
	{
		Title:         "Training Language Models to Follow Instructions with Human Feedback",
		Authors:       []string{"Long Ouyang"},
		Year:          2022,
		Abstract:      "We show an avenue for aligning language models with user intent by fine-tuning with human feedback.",
		URL:           "https://arxiv.org/abs/2203.02155",
		PDFURL:        "https://arxiv.org/pdf/2203.02155",
		CitationCount: 11000,
	},
}

// searchCorpus 按主题关键词在模拟文献库中检索。
// sortBy 为 citation 时按引用数降序，否则保持相关度顺序。
func searchCorpus(topic string, years, maxPapers int, sortBy string) []Paper {
	tokens := tokenize(topic)
	currentYear := time.Now().Year()

	matched := make([]Paper, 0, len(builtinCorpus))
	for _, paper := range builtinCorpus {
		if years > 0 && paper.Year > 0 && paper.Year < currentYear-years {
			continue
		}
		if len(tokens) == 0 || matchesAny(paper, tokens) {
			matched = append(matched, paper)
		}
	}

	if sortBy == "citation" {
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].CitationCount > matched[j].CitationCount
		})
	}

	if maxPapers > 0 && len(matched) > maxPapers {
		matched = matched[:maxPapers]
	}
	return matched
}

func matchesAny(paper Paper, tokens []string) bool {
	haystack := strings.ToLower(paper.Title + " " + paper.Abstract)
	for _, token := range tokens {
		if strings.Contains(haystack, token) {
			return true
		}
	}
	return false
}

func tokenize(topic string) []string {
	fields := strings.Fields(strings.ToLower(topic))
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field != "" {
			tokens = append(tokens, field)
		}
	}
	return tokens
}
