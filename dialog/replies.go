package dialog

const (
	ChoiceYes    = "yes"
	ChoiceNo     = "no"
	ChoiceOther  = "other"
	ChoiceCancel = "cancel"
)

const (
	textWelcome = "Benvenuto nel bot di GPTEmotions!\nScrivi una frase da analizzare per ottenere l'emozione rilevata :)"
	textInfo    = "Ciao, io sono GPTEmotionsBot!\n" +
		"Sono programmato per individuare le emozioni nelle frasi che mi vengono poste.\n" +
		"Scrivimi pure una frase per farmela analizzare e al termine dell'analisi ti chiederò gentilmente di " +
		"aiutarmi a capire se sono stato bravo.\n" +
		"Se invece non vuoi aiutarmi a migliorare, puoi utilizzare il comando /analizza per pormi la frase da analizzare.\n" +
		"È tutto, aspetto le tue frasi! :)"
	textAnalyzeUsage = "Scrivi la frase da analizzare dopo il comando, ad esempio: /analizza che bella giornata"

	textConfirmQuestion = "Le emozioni riconosciute sono corrette?"
	textHelpQuestion    = "Ti andrebbe di aiutarmi a capire quali emozioni conteneva la frase?"

	textThanksConfirmed = "Grandioso! Grazie per il tuo contributo"
	textThanks          = "Grazie per il tuo contributo!"

	textAssumeNo           = "Lo prendo come un no.\n"
	textAskCorrection      = "Allora per favore indicami l'emozione che conteneva la frase scegliendola tra quelle proposte, oppure premi Altro per scriverle tu"
	textAskCorrectionEmpty = "Indicami l'emozione che conteneva la frase scegliendola tra quelle proposte, oppure premi Altro per scriverle tu"
	textAskFreeform        = "Scrivimi le emozioni che conteneva la frase separate da una virgola"

	textDeclinedEmpty          = "Come non detto allora! Inviami pure la prossima frase"
	textDeclinedEmptyAmbiguous = "Lo prendo come un no. Grazie lo stesso :)"
	textCancelled              = "Come non detto allora. Inviami pure la prossima frase"

	textClassifierFailed = "Non sono riuscito ad analizzare la frase in questo momento, riprova più tardi."
)

// ConfirmChoices is the yes/no keyboard shown after an analysis.
func ConfirmChoices() []Choice {
	return []Choice{
		{Value: ChoiceYes, Caption: "Sì"},
		{Value: ChoiceNo, Caption: "No"},
	}
}

// CorrectionChoices is every supported label followed by the "other" and "cancel" controls.
func CorrectionChoices(labels []string) []Choice {
	out := make([]Choice, 0, len(labels)+2)
	for _, l := range labels {
		out = append(out, Choice{Value: l, Caption: l})
	}
	return append(out,
		Choice{Value: ChoiceOther, Caption: "Altro"},
		Choice{Value: ChoiceCancel, Caption: "Annulla"},
	)
}
