package flows

import (
	"strings"
	"text/template"
)

var extractionPrompt = template.Must(template.New("extraction").Parse(
	`Sei un medico esperto nella raccolta dell'anamnesi. Analizza la trascrizione di un colloquio medico-paziente e individua le domande poste dal medico con le relative risposte del paziente.
Assegna a ogni coppia domanda-risposta una sezione di screening pertinente (per esempio: storia medica, sintomi attuali, allergie, farmaci, storia familiare, storia sociale).
Rispondi esclusivamente con un array JSON valido di oggetti con i campi "question", "answer" e "category".

Trascrizione:
{{.Transcription}}`))

var suggestionPrompt = template.Must(template.New("suggestion").Parse(
	`Sei un assistente che aiuta i medici a condurre un'anamnesi completa.
In base alla trascrizione corrente, alle domande che hanno già ricevuto risposta e alla sezione di screening in esame, suggerisci ulteriori domande da porre al paziente.
Rispondi esclusivamente con un oggetto JSON della forma {"suggestedQuestions": ["..."]}.

Trascrizione corrente:
{{.Transcript}}

Domande con risposta:
{{range .AnsweredQuestions}}- {{.}}
{{end}}
Sezione di screening corrente:
{{.ScreeningSection}}`))

var formattingPrompt = template.Must(template.New("formatting").Parse(
	`Sei un esperto nella redazione di documenti medici.
Riceverai i dati di un colloquio clinico composti da domande (D) e risposte (R).
Trasformali in un documento medico di qualità professionale, chiaro, strutturato e facilmente leggibile.
Rispondi esclusivamente con un oggetto JSON della forma {"formattedDocument": "..."}.

Dati del colloquio:
{{.InterviewData}}`))

func render(t *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
