package templates

const PlotTemplate = `% Generated on {{.GeneratedDate}}
%
% Run ID: {{.RunID}}
% Experiment: {{.Experiment}} ({{.Checksum}})
% Description: {{.Description}}
% Started: {{.RunStarted}}
% Finished: {{.RunFinished}}
% Duration: {{.DurationSeconds}}s
% Rounds: {{.Rounds}} (success: {{.Successful}}, fail: {{.Failed}}, notenough: {{.NotEnough}})
% Mean Accuracy: {{printf "%.4f" .MeanAccuracy}}
%
% Host Information:
% Hostname: {{.Hostname}}
% CPU: {{.CPUModel}}
% Kernel: {{.KernelVersion}}
%
\begin{tikzpicture}
	\begin{axis}[
		xlabel={ {{.XLabel}} },
		ylabel={ {{.YLabel}} },
		width=\textwidth,
		height=0.6\textwidth,
		xmode=log,
		log basis x=2,
		ymin={{.YMin}}, ymax={{.YMax}},
		ymajorgrids,
		grid style=dashed,
		legend pos=south east,
	]

{{range .Plots}}
% Strategy: {{.Strategy}} ({{.Rounds}} rounds)
\addplot+[{{.Style}}]
  coordinates {
{{range .Coordinates}}    {{.}}
{{end}}  };
\addlegendentry{ {{.LegendEntry}} }

{{end}}
	\end{axis}
\end{tikzpicture}
`

type PlotData struct {
	GeneratedDate   string
	RunID           string
	Experiment      string
	Checksum        string
	Description     string
	RunStarted      string
	RunFinished     string
	DurationSeconds int64
	Rounds          int64
	Successful      int64
	Failed          int64
	NotEnough       int64
	MeanAccuracy    float64
	Hostname        string
	CPUModel        string
	KernelVersion   string
	XLabel          string
	YLabel          string
	YMin            string
	YMax            string
	Plots           []PlotSeries
}

type PlotSeries struct {
	Strategy    string
	Rounds      int
	Style       string
	LegendEntry string
	Coordinates []string
}
