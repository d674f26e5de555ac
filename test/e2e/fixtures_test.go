package e2e

const exposureXMLFixture = `<?xml version="1.0" encoding="UTF-8"?>
<nrml xmlns="http://openquake.org/xmlns/nrml/0.5">
  <exposureModel id="groningen_buildings" category="buildings" taxonomySource="GEM">
    <description>Groningen building stock</description>
    <occupancyPeriods>day night</occupancyPeriods>
    <tagNames>municipality postalcode</tagNames>
    <assets>exposure_assets.csv</assets>
  </exposureModel>
</nrml>`

const assetCSVFixture = `id,lon,lat,taxonomy,number,structural,contents,day_occupants,night_occupants,municipality,postalcode
a1,6.57,53.22,CR_LFM,1,250000,50000,4,2,Groningen,9711
a2,6.57,53.22,MUR_LWAL,2,180000,30000,3,5,Groningen,9712
a3,6.60,53.25,CR_LFM,1,300000,60000,2,1,Loppersum,9919
`

const vulnerabilityXMLFixture = `<?xml version="1.0" encoding="UTF-8"?>
<nrml xmlns="http://openquake.org/xmlns/nrml/0.5">
  <vulnerabilityModel id="structural_vulnerability" assetCategory="buildings" lossCategory="structural">
    <description>Structural loss curves</description>
    <vulnerabilityFunction id="CR_LFM" dist="LN">
      <imls imt="PGA">0.05 0.1 0.2 0.4</imls>
      <meanLRs>0.01 0.1 0.4 0.8</meanLRs>
      <covLRs>0.3 0.3 0.2 0.1</covLRs>
    </vulnerabilityFunction>
    <vulnerabilityFunction id="MUR_LWAL" dist="LN">
      <imls imt="PGA">0.05 0.1 0.2 0.4</imls>
      <meanLRs>0.05 0.2 0.6 0.9</meanLRs>
    </vulnerabilityFunction>
  </vulnerabilityModel>
</nrml>`

const riskINIFixture = `[general]
description = Groningen scenario risk
calculation_mode = scenario_risk

[hazard]
number_of_ground_motion_fields = 100
maximum_distance = 300
truncation_level = 3
random_seed = 42

[risk]
master_seed = 7
`
