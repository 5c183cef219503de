package models

const (
	// PageMarkerFormat tags extracted text with its originating page so the
	// chunker can attribute every chunk to a single page.
	PageMarkerFormat = "[Page %d]"
	PageMarkerRegex  = `\[Page (\d+)\]`

	// SourceCitationFormat is how a chunk's provenance is rendered in answer
	// source lists, e.g. "diabetes.pdf (Page 3)".
	SourceCitationFormat = "%s (Page %d)"

	ContextBlockFormat = "[Context %d from %s, Page %d]\n%s\n"
)

const (
	MedicalDisclaimer = "\n\n⚕️ **Medical Disclaimer**: This information is for educational purposes only and is not a substitute for professional medical advice. Please consult a qualified healthcare provider for medical concerns."

	EmptyKnowledgeBaseMessage = "The knowledge base is currently empty. Please ask an administrator to upload medical documents."
)

var (
	// GroundedPromptTemplate binds the generation backend to the retrieved
	// context. Filled with the joined context blocks and the question.
	GroundedPromptTemplate = `You are a health information assistant. Your role is to provide accurate, factual information based ONLY on the provided medical documents.

STRICT RULES:
1. Answer ONLY using information from the context below
2. If the answer is not in the context, say "I don't have that information in the available documents"
3. Do NOT use your general knowledge or training data
4. Do NOT make up or infer information
5. Be concise and clear
6. Cite the context number when referring to information

CONTEXT:
%s

QUESTION: %s

ANSWER (based only on the context above):`

	// NoContextResponseTemplate is returned verbatim, without any backend
	// call, when retrieval finds nothing above the minimum score.
	NoContextResponseTemplate = `I don't have information about "%s" in the available medical documents.

For accurate medical information on this topic, I recommend:
1. Consulting a qualified healthcare professional
2. Visiting trusted medical websites (CDC, WHO, Mayo Clinic, etc.)
3. Asking the admin to upload relevant medical documents

Is there anything else I can help you with from the available documents?`
)
